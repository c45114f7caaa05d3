package notify

import (
	"context"
	"fmt"

	"github.com/kozaktomas/facepay/internal/database"
)

// StoreNotifier records match events so the payment layer can read them back.
type StoreNotifier struct {
	Repo database.MatchEventWriter
}

func (n StoreNotifier) NotifyMatch(ctx context.Context, event MatchEvent) error {
	_, err := n.Repo.SaveMatchEvent(ctx, database.StoredMatchEvent{
		SessionID:  event.SessionID,
		UserID:     event.UserID,
		Distance:   event.Distance,
		Confidence: event.Confidence,
		FrameSeq:   event.FrameSeq,
		MatchedAt:  event.MatchedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to store match event: %w", err)
	}
	return nil
}
