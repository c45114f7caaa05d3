package database

import (
	"time"
)

// EnrolledIdentity is a known user together with every reference embedding
// recorded for them. All embeddings share the extractor's dimensionality.
type EnrolledIdentity struct {
	UserID     string
	Name       string
	Embeddings [][]float32
	EnrolledAt time.Time
}

// StoredEmbedding represents one reference embedding row in the enrollment store
type StoredEmbedding struct {
	ID        int64
	UserID    string
	Embedding []float32
	Model     string
	Dim       int
	CreatedAt time.Time
}

// StoredMatchEvent is a successful match recorded for the payment layer.
type StoredMatchEvent struct {
	ID         int64
	SessionID  string
	UserID     string
	Distance   float64
	Confidence float64
	FrameSeq   uint64
	MatchedAt  time.Time
}
