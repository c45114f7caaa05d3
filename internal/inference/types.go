// Package inference runs face detection and embedding extraction on a fixed
// pool of workers, off the connection goroutines.
package inference

import (
	"context"
	"image"
	"time"
)

// Detector locates faces in an image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// Embedder computes an identity embedding for the face inside bbox.
type Embedder interface {
	Embed(ctx context.Context, img image.Image, bbox BBox) ([]float32, error)
}

// BBox is a face rectangle in pixel coordinates of the source frame.
type BBox struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Rect returns the bounding box as an image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Array returns [x, y, w, h], the wire representation.
func (b BBox) Array() [4]int {
	return [4]int{b.X, b.Y, b.Width, b.Height}
}

// Empty reports whether the box has no area.
func (b BBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Detection is a single detector hit.
type Detection struct {
	BBox       BBox
	Confidence float64
}

// DetectedFace is a detection plus its embedding, when one was extracted.
type DetectedFace struct {
	BBox       BBox
	Confidence float64
	Embedding  []float32
}

// HasEmbedding reports whether embedding extraction succeeded for the face.
func (f DetectedFace) HasEmbedding() bool {
	return len(f.Embedding) > 0
}

// Frame is one decoded video frame owned by a session.
type Frame struct {
	Image      image.Image
	Seq        uint64
	SessionID  string
	ReceivedAt time.Time
}

// Result is the outcome of one job. Err is an *InferenceError when the frame failed.
type Result struct {
	SessionID string
	Seq       uint64
	Faces     []DetectedFace
	Err       error
	Skipped   bool // session was gone before a worker picked the job up
	Duration  time.Duration
}

// EmbeddingsCount returns the number of faces with an embedding.
func (r Result) EmbeddingsCount() int {
	n := 0
	for _, f := range r.Faces {
		if f.HasEmbedding() {
			n++
		}
	}
	return n
}

// Job is a unit of work for the scheduler. Done is called exactly once.
type Job struct {
	Frame    Frame
	Canceled func() bool
	Done     func(Result)
}
