package inference

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DecodeImage decodes a JPEG, PNG, GIF, BMP or WebP image.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid image: %w", err)
	}
	return img, nil
}

// BBoxFromCorners converts a pixel bbox [x1, y1, x2, y2] into a BBox clipped to bounds.
// The second return value is false when the clipped box is empty or malformed.
func BBoxFromCorners(corners []float64, bounds image.Rectangle) (BBox, bool) {
	if len(corners) != 4 {
		return BBox{}, false
	}
	for _, c := range corners {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return BBox{}, false
		}
	}

	r := image.Rect(
		int(math.Floor(corners[0])),
		int(math.Floor(corners[1])),
		int(math.Ceil(corners[2])),
		int(math.Ceil(corners[3])),
	).Intersect(bounds)
	if r.Empty() {
		return BBox{}, false
	}
	return BBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}, true
}

// CropFace cuts bbox out of img and scales it to a size x size square.
func CropFace(img image.Image, bbox BBox, size int) (image.Image, error) {
	r := bbox.Rect().Intersect(img.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("bbox %v outside image bounds %v", bbox.Rect(), img.Bounds())
	}
	if size <= 0 {
		size = max(r.Dx(), r.Dy())
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, r, draw.Src, nil)
	return dst, nil
}

// EncodeJPEG encodes img as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
