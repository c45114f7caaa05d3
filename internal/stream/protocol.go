package stream

import "github.com/kozaktomas/facepay/internal/inference"

// Client message types.
const (
	TypeToggleFaceDetection = "toggle_face_detection"
	TypeVideoFrame          = "video_frame"
	TypeClearFaceCache      = "clear_face_cache"
	TypeMatchFace           = "match_face"
)

// Server message types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeFaceDetectionToggled  = "face_detection_toggled"
	TypeFaceDetectionResult   = "face_detection_result"
	TypeFaceMatchResult       = "face_match_result"
	TypeFaceCacheCleared      = "face_cache_cleared"
	TypeError                 = "error"
)

// ClientMessage is any message sent by the client. Fields are populated per Type.
type ClientMessage struct {
	Type      string    `json:"type"`
	Enabled   *bool     `json:"enabled,omitempty"`
	FrameData string    `json:"frame_data,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Message is a server to client message.
type Message interface {
	MessageType() string
}

// ConnectionEstablished greets a new session with its id.
type ConnectionEstablished struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

func (m ConnectionEstablished) MessageType() string { return m.Type }

// FaceDetectionToggled acknowledges toggle_face_detection.
type FaceDetectionToggled struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

func (m FaceDetectionToggled) MessageType() string { return m.Type }

// FaceInfo is one detected face on the wire. BBox is [x, y, w, h].
type FaceInfo struct {
	BBox         [4]int  `json:"bbox"`
	Confidence   float64 `json:"confidence"`
	HasEmbedding bool    `json:"has_embedding"`
}

// FaceDetectionResult carries every face detected in one frame.
type FaceDetectionResult struct {
	Type            string     `json:"type"`
	FacesDetected   int        `json:"faces_detected"`
	Faces           []FaceInfo `json:"faces"`
	EmbeddingsCount int        `json:"embeddings_count"`
}

func (m FaceDetectionResult) MessageType() string { return m.Type }

// FaceMatchResult reports a lookup. Score is the distance to the matched
// identity; Score, Confidence and UserID are only set when Matched.
type FaceMatchResult struct {
	Type       string   `json:"type"`
	Matched    bool     `json:"matched"`
	UserID     string   `json:"user_id,omitempty"`
	Score      *float64 `json:"score,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func (m FaceMatchResult) MessageType() string { return m.Type }

// FaceCacheCleared acknowledges clear_face_cache.
type FaceCacheCleared struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (m FaceCacheCleared) MessageType() string { return m.Type }

// ErrorMessage reports a per-message failure. The connection stays open.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (m ErrorMessage) MessageType() string { return m.Type }

// NewErrorMessage builds an error message with a human readable reason.
func NewErrorMessage(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// NewFaceDetectionResult converts an inference result into its wire message.
func NewFaceDetectionResult(result inference.Result) FaceDetectionResult {
	faces := make([]FaceInfo, len(result.Faces))
	for i, f := range result.Faces {
		faces[i] = FaceInfo{
			BBox:         f.BBox.Array(),
			Confidence:   f.Confidence,
			HasEmbedding: f.HasEmbedding(),
		}
	}
	return FaceDetectionResult{
		Type:            TypeFaceDetectionResult,
		FacesDetected:   len(faces),
		Faces:           faces,
		EmbeddingsCount: result.EmbeddingsCount(),
	}
}
