// Package facematch holds the enrolled-identity gallery and the nearest-match
// lookup used by the streaming pipeline and the enrollment endpoints.
package facematch

import (
	"errors"
	"time"
)

var (
	// ErrDimensionMismatch is returned when a vector does not have the gallery's dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrInvalidIdentity is returned for an empty user id or an empty/zero embedding.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// MatchResult is the outcome of a single lookup. When Matched is false the
// remaining fields describe the closest candidate, if any.
type MatchResult struct {
	Matched    bool    `json:"matched"`
	UserID     string  `json:"user_id,omitempty"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
}

// IdentitySummary describes an enrolled identity without its vectors.
type IdentitySummary struct {
	UserID     string    `json:"user_id"`
	Name       string    `json:"name,omitempty"`
	Embeddings int       `json:"embeddings"`
	EnrolledAt time.Time `json:"enrolled_at"`
}
