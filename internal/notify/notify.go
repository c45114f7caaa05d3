// Package notify forwards successful face matches to the payment boundary.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// MatchEvent is what the payment layer receives for a successful match.
type MatchEvent struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Distance   float64   `json:"distance"`
	Confidence float64   `json:"confidence"`
	FrameSeq   uint64    `json:"frame_seq"`
	MatchedAt  time.Time `json:"matched_at"`
}

// Notifier delivers match events. Implementations must be safe for concurrent use.
type Notifier interface {
	NotifyMatch(ctx context.Context, event MatchEvent) error
}

// LogNotifier writes match events to the log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) NotifyMatch(ctx context.Context, event MatchEvent) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "face matched",
		"session", event.SessionID,
		"user_id", event.UserID,
		"distance", event.Distance,
		"confidence", event.Confidence,
		"seq", event.FrameSeq,
	)
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) NotifyMatch(ctx context.Context, event MatchEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyMatch(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
