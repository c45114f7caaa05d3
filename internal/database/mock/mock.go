// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/facepay/internal/database"
)

// MockIdentityStore is a mock implementation of database.IdentityWriter
type MockIdentityStore struct {
	mu         sync.RWMutex
	identities map[string]*storedIdentity
	nextID     int64
	now        func() time.Time

	// Error injection
	ListError   error
	CountError  error
	SaveError   error
	DeleteError error
}

type storedIdentity struct {
	userID     string
	name       string
	enrolledAt time.Time
	embeddings []database.StoredEmbedding
}

// NewMockIdentityStore creates a new mock identity store
func NewMockIdentityStore() *MockIdentityStore {
	return &MockIdentityStore{
		identities: make(map[string]*storedIdentity),
		now:        time.Now,
	}
}

// AddIdentity adds an identity whose embeddings were all produced by model
func (m *MockIdentityStore) AddIdentity(identity database.EnrolledIdentity, model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := &storedIdentity{userID: identity.UserID, name: identity.Name, enrolledAt: identity.EnrolledAt}
	for _, emb := range identity.Embeddings {
		stored.embeddings = append(stored.embeddings, m.newEmbedding(identity.UserID, emb, model, identity.EnrolledAt))
	}
	m.identities[identity.UserID] = stored
}

// newEmbedding must be called with mu held.
func (m *MockIdentityStore) newEmbedding(userID string, embedding []float32, model string, at time.Time) database.StoredEmbedding {
	m.nextID++
	return database.StoredEmbedding{
		ID:        m.nextID,
		UserID:    userID,
		Embedding: slices.Clone(embedding),
		Model:     model,
		Dim:       len(embedding),
		CreatedAt: at,
	}
}

// ListIdentities returns identities with embeddings of model, ordered by enrollment time
func (m *MockIdentityStore) ListIdentities(ctx context.Context, model string) ([]database.EnrolledIdentity, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]database.EnrolledIdentity, 0, len(m.identities))
	for _, stored := range m.identities {
		identity := database.EnrolledIdentity{UserID: stored.userID, Name: stored.name, EnrolledAt: stored.enrolledAt}
		for _, emb := range stored.embeddings {
			if model == "" || emb.Model == model {
				identity.Embeddings = append(identity.Embeddings, slices.Clone(emb.Embedding))
			}
		}
		if len(identity.Embeddings) > 0 {
			result = append(result, identity)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].EnrolledAt.Equal(result[j].EnrolledAt) {
			return result[i].UserID < result[j].UserID
		}
		return result[i].EnrolledAt.Before(result[j].EnrolledAt)
	})
	return result, nil
}

// Count returns the number of identities
func (m *MockIdentityStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities), nil
}

// ListEmbeddings returns the embeddings of one identity as stored rows
func (m *MockIdentityStore) ListEmbeddings(ctx context.Context, userID string) ([]database.StoredEmbedding, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.identities[userID]
	if !ok {
		return nil, database.ErrIdentityNotFound
	}
	rows := make([]database.StoredEmbedding, 0, len(stored.embeddings))
	for _, emb := range stored.embeddings {
		emb.Embedding = slices.Clone(emb.Embedding)
		rows = append(rows, emb)
	}
	return rows, nil
}

// SaveEmbedding appends an embedding, creating the identity when needed
func (m *MockIdentityStore) SaveEmbedding(ctx context.Context, userID, name string, embedding []float32, model string) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stored, ok := m.identities[userID]
	if !ok {
		stored = &storedIdentity{userID: userID, enrolledAt: now}
		m.identities[userID] = stored
	}
	if name != "" {
		stored.name = name
	}
	stored.embeddings = append(stored.embeddings, m.newEmbedding(userID, embedding, model, now))
	return nil
}

// DeleteIdentity removes an identity
func (m *MockIdentityStore) DeleteIdentity(ctx context.Context, userID string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[userID]; !ok {
		return database.ErrIdentityNotFound
	}
	delete(m.identities, userID)
	return nil
}

// MockMatchEventStore is a mock implementation of database.MatchEventWriter and database.MatchEventReader
type MockMatchEventStore struct {
	mu     sync.RWMutex
	events []database.StoredMatchEvent
	nextID int64

	// Error injection
	SaveError error
	ListError error
}

// NewMockMatchEventStore creates a new mock match event store
func NewMockMatchEventStore() *MockMatchEventStore {
	return &MockMatchEventStore{nextID: 1}
}

// SaveMatchEvent records an event and returns its id
func (m *MockMatchEventStore) SaveMatchEvent(ctx context.Context, event database.StoredMatchEvent) (int64, error) {
	if m.SaveError != nil {
		return 0, m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = m.nextID
	m.nextID++
	m.events = append(m.events, event)
	return event.ID, nil
}

// ListRecent returns up to limit events, newest first
func (m *MockMatchEventStore) ListRecent(ctx context.Context, userID string, limit int) ([]database.StoredMatchEvent, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.StoredMatchEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		if userID != "" && m.events[i].UserID != userID {
			continue
		}
		result = append(result, m.events[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Events returns every recorded event in insertion order
func (m *MockMatchEventStore) Events() []database.StoredMatchEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}
