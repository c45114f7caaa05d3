package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/facepay/internal/database"
)

// MatchEventRepository stores successful matches for the payment layer
type MatchEventRepository struct {
	pool *Pool
}

// NewMatchEventRepository creates a new match event repository
func NewMatchEventRepository(pool *Pool) *MatchEventRepository {
	return &MatchEventRepository{pool: pool}
}

// SaveMatchEvent records one match and returns its id
func (r *MatchEventRepository) SaveMatchEvent(ctx context.Context, event database.StoredMatchEvent) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO match_events (session_id, user_id, distance, confidence, frame_seq, matched_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, event.SessionID, event.UserID, event.Distance, event.Confidence, int64(event.FrameSeq), event.MatchedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert match event: %w", err)
	}
	return id, nil
}

// ListRecent returns up to limit events, newest first. An empty userID lists every user.
func (r *MatchEventRepository) ListRecent(ctx context.Context, userID string, limit int) ([]database.StoredMatchEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, session_id, user_id, distance, confidence, frame_seq, matched_at
		FROM match_events
		WHERE $1::text = '' OR user_id = $1::text
		ORDER BY matched_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list match events: %w", err)
	}
	defer rows.Close()

	var events []database.StoredMatchEvent
	for rows.Next() {
		var e database.StoredMatchEvent
		var seq int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.Distance, &e.Confidence, &seq, &e.MatchedAt); err != nil {
			return nil, fmt.Errorf("scan match event: %w", err)
		}
		e.FrameSeq = uint64(seq)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate match events: %w", err)
	}
	return events, nil
}
