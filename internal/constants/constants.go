// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Inference constants
const (
	// DefaultWorkers is the default size of the fixed inference worker pool
	DefaultWorkers = 4

	// DefaultMinDetectionConfidence is the lowest detector score for which an embedding is computed
	DefaultMinDetectionConfidence = 0.5

	// DefaultFaceInputSize is the side length faces are resized to before embedding (FaceNet)
	DefaultFaceInputSize = 160

	// FaceCropJPEGQuality is the JPEG quality used when shipping face crops to the embedding server
	FaceCropJPEGQuality = 95
)

// Face matching constants
const (
	// DefaultDistanceThreshold is the default maximum cosine distance for face matching
	// Lower values = stricter matching
	DefaultDistanceThreshold = 0.4

	// DefaultIndexCandidates is the number of nearest references taken from the HNSW prefilter
	DefaultIndexCandidates = 32
)

// Notification constants
const (
	// NotifyTimeoutSeconds bounds a single match notification to the payment boundary
	NotifyTimeoutSeconds = 5
)
