package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/kozaktomas/facepay/internal/constants"
)

const defaultInferenceURL = "http://localhost:8000"

// Client talks to the detection/embedding server. It implements both Detector and Embedder.
type Client struct {
	baseURL   string
	model     string
	inputSize int
	client    *http.Client
}

// NewClient creates a new inference server client. inputSize is the side
// length face crops are scaled to before embedding.
func NewClient(baseURL, model string, inputSize int) *Client {
	if baseURL == "" {
		baseURL = defaultInferenceURL
	}
	if inputSize <= 0 {
		inputSize = constants.DefaultFaceInputSize
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		model:     model,
		inputSize: inputSize,
		client:    &http.Client{},
	}
}

// Model returns the embedding model name requested from the server.
func (c *Client) Model() string {
	return c.model
}

// detectResponse represents the response from the face detection endpoint
type detectResponse struct {
	Faces []struct {
		BBox     []float64 `json:"bbox"` // [x1, y1, x2, y2]
		DetScore float64   `json:"det_score"`
	} `json:"faces"`
}

// embedResponse represents the response from the face embedding endpoint
type embedResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// postMultipartImage posts imageData as the "file" part of a multipart form.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if c.model != "" {
		if err := writer.WriteField("model", c.model); err != nil {
			return nil, fmt.Errorf("failed to write model field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// Detect sends the frame to the detection endpoint. Boxes are clipped to the frame.
func (c *Client) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	data, err := EncodeJPEG(img, constants.FaceCropJPEGQuality)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/detect/face", data)
	if err != nil {
		return nil, err
	}

	var detResp detectResponse
	if err := json.Unmarshal(body, &detResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	detections := make([]Detection, 0, len(detResp.Faces))
	for _, face := range detResp.Faces {
		bbox, ok := BBoxFromCorners(face.BBox, img.Bounds())
		if !ok {
			continue
		}
		detections = append(detections, Detection{
			BBox:       bbox,
			Confidence: min(max(face.DetScore, 0), 1),
		})
	}
	return detections, nil
}

// Embed crops the face, scales it to the model input size and requests its embedding.
func (c *Client) Embed(ctx context.Context, img image.Image, bbox BBox) ([]float32, error) {
	crop, err := CropFace(img, bbox, c.inputSize)
	if err != nil {
		return nil, err
	}
	data, err := EncodeJPEG(crop, constants.FaceCropJPEGQuality)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", data)
	if err != nil {
		return nil, err
	}

	var embResp embedResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(embResp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}

	return embResp.Embedding, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	return "application/octet-stream"
}
