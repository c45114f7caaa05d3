package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/facepay/internal/database"
	"github.com/pgvector/pgvector-go"
)

// IdentityRepository provides PostgreSQL-backed enrollment storage
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new identity repository
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// ListIdentities returns every identity that has at least one embedding of
// model (any model when empty). Identities come back in enrollment order,
// their embeddings in insertion order.
func (r *IdentityRepository) ListIdentities(ctx context.Context, model string) ([]database.EnrolledIdentity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT i.user_id, i.name, i.enrolled_at, e.embedding
		FROM identities i
		JOIN identity_embeddings e ON e.user_id = i.user_id
		WHERE $1::text = '' OR e.model = $1::text
		ORDER BY i.enrolled_at, i.enroll_seq, e.id
	`, model)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var identities []database.EnrolledIdentity
	for rows.Next() {
		var identity database.EnrolledIdentity
		var vec pgvector.Vector
		if err := rows.Scan(&identity.UserID, &identity.Name, &identity.EnrolledAt, &vec); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		if n := len(identities); n > 0 && identities[n-1].UserID == identity.UserID {
			identities[n-1].Embeddings = append(identities[n-1].Embeddings, vec.Slice())
			continue
		}
		identity.Embeddings = [][]float32{vec.Slice()}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

// Count returns the number of enrolled identities
func (r *IdentityRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// ListEmbeddings returns the reference embedding rows of one identity
func (r *IdentityRepository) ListEmbeddings(ctx context.Context, userID string) ([]database.StoredEmbedding, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM identities WHERE user_id = $1)", userID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check identity: %w", err)
	}
	if !exists {
		return nil, database.ErrIdentityNotFound
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, embedding, model, dim, created_at
		FROM identity_embeddings
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	var result []database.StoredEmbedding
	for rows.Next() {
		var e database.StoredEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(&e.ID, &e.UserID, &vec, &e.Model, &e.Dim, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		e.Embedding = vec.Slice()
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return result, nil
}

// SaveEmbedding adds a reference embedding, creating the identity on first use.
// An empty name keeps the stored one.
func (r *IdentityRepository) SaveEmbedding(ctx context.Context, userID, name string, embedding []float32, model string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	if len(embedding) == 0 {
		return errors.New("embedding is empty")
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO identities (user_id, name)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE identities.name END
	`, userID, name)
	if err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO identity_embeddings (user_id, embedding, model, dim)
		VALUES ($1, $2, $3, $4)
	`, userID, pgvector.NewVector(embedding), model, len(embedding))
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit embedding: %w", err)
	}
	return nil
}

// DeleteIdentity removes an identity; its embeddings go with it
func (r *IdentityRepository) DeleteIdentity(ctx context.Context, userID string) error {
	result, err := r.pool.Exec(ctx, "DELETE FROM identities WHERE user_id = $1", userID)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	if affected == 0 {
		return database.ErrIdentityNotFound
	}
	return nil
}
