package database

import (
	"context"
	"errors"
)

// ErrIdentityNotFound is returned when a user id has no enrollment
var ErrIdentityNotFound = errors.New("identity not found")

// IdentityReader provides read-only access to enrolled identities
type IdentityReader interface {
	// ListIdentities returns every identity with its reference embeddings produced
	// by model, ordered by enrollment time (oldest first). Identities without an
	// embedding of that model are left out. An empty model lists every embedding.
	ListIdentities(ctx context.Context, model string) ([]EnrolledIdentity, error)
	// Count returns the number of enrolled identities
	Count(ctx context.Context) (int, error)
	// ListEmbeddings returns the reference embedding rows of one identity, oldest first
	ListEmbeddings(ctx context.Context, userID string) ([]StoredEmbedding, error)
}

// IdentityWriter provides write access to the enrollment store
type IdentityWriter interface {
	IdentityReader

	// SaveEmbedding adds a reference embedding, creating the identity if it does not exist
	SaveEmbedding(ctx context.Context, userID, name string, embedding []float32, model string) error
	// DeleteIdentity removes an identity and all of its embeddings
	DeleteIdentity(ctx context.Context, userID string) error
}

// MatchEventWriter records successful matches
type MatchEventWriter interface {
	SaveMatchEvent(ctx context.Context, event StoredMatchEvent) (int64, error)
}

// MatchEventReader lists recorded matches, newest first
type MatchEventReader interface {
	// ListRecent returns up to limit events; an empty userID lists all users
	ListRecent(ctx context.Context, userID string, limit int) ([]StoredMatchEvent, error)
}
