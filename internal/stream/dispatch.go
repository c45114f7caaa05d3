package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/facepay/internal/constants"
	"github.com/kozaktomas/facepay/internal/facematch"
	"github.com/kozaktomas/facepay/internal/inference"
	"github.com/kozaktomas/facepay/internal/metrics"
	"github.com/kozaktomas/facepay/internal/notify"
)

// Matcher is the part of the embedding cache the dispatcher needs.
type Matcher interface {
	Match(embedding []float32) (facematch.MatchResult, error)
	Clear()
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Notifier      notify.Notifier // nil disables match notifications
	NotifyTimeout time.Duration
	Logger        *slog.Logger
}

// Dispatcher turns inference and match outcomes into client messages and
// forwards matches to the payment boundary.
type Dispatcher struct {
	sessions      *Manager
	matcher       Matcher
	notifier      notify.Notifier
	notifyTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time

	pending sync.WaitGroup
}

// NewDispatcher creates a result dispatcher.
func NewDispatcher(sessions *Manager, matcher Matcher, opts DispatcherOptions) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = constants.NotifyTimeoutSeconds * time.Second
	}
	return &Dispatcher{
		sessions:      sessions,
		matcher:       matcher,
		notifier:      opts.Notifier,
		notifyTimeout: opts.NotifyTimeout,
		logger:        opts.Logger.With("component", "dispatcher"),
		now:           time.Now,
	}
}

// Deliver emits the results of one frame. The face_detection_result always
// precedes the face_match_result messages derived from the same frame.
// Results for sessions that are gone are discarded.
func (d *Dispatcher) Deliver(result inference.Result) {
	if result.Skipped {
		return
	}
	session, err := d.sessions.Get(result.SessionID)
	if err != nil {
		d.logger.Debug("discarding result for closed session", "session", result.SessionID, "seq", result.Seq)
		return
	}

	if result.Err != nil {
		if errors.Is(result.Err, inference.ErrSchedulerStopped) {
			return
		}
		session.Send(NewErrorMessage("Frame processing error: " + result.Err.Error()))
		return
	}

	session.Send(NewFaceDetectionResult(result))

	for _, face := range result.Faces {
		if !face.HasEmbedding() {
			continue
		}
		match, err := d.matcher.Match(face.Embedding)
		if err != nil {
			metrics.Matches.WithLabelValues(metrics.OutcomeError).Inc()
			session.Send(NewErrorMessage("Face matching error: " + err.Error()))
			continue
		}
		if !match.Matched {
			metrics.Matches.WithLabelValues(metrics.OutcomeNoMatch).Inc()
			continue
		}

		metrics.Matches.WithLabelValues(metrics.OutcomeMatched).Inc()
		session.Send(newFaceMatchResult(match))
		d.notifyMatch(notify.MatchEvent{
			SessionID:  session.ID,
			UserID:     match.UserID,
			Distance:   match.Distance,
			Confidence: match.Confidence,
			FrameSeq:   result.Seq,
			MatchedAt:  d.now(),
		})
	}
}

// MatchEmbedding answers a client supplied embedding. Unlike the streaming
// path it always emits a face_match_result, matched or not.
func (d *Dispatcher) MatchEmbedding(sessionID string, embedding []float32) error {
	session, err := d.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if len(embedding) == 0 {
		session.Send(NewErrorMessage("match_face requires an embedding"))
		return nil
	}

	match, err := d.matcher.Match(embedding)
	if err != nil {
		metrics.Matches.WithLabelValues(metrics.OutcomeError).Inc()
		session.Send(NewErrorMessage("Face matching error: " + err.Error()))
		return nil
	}
	if match.Matched {
		metrics.Matches.WithLabelValues(metrics.OutcomeMatched).Inc()
	} else {
		metrics.Matches.WithLabelValues(metrics.OutcomeNoMatch).Inc()
	}
	session.Send(newFaceMatchResult(match))
	return nil
}

// ClearCache empties the embedding cache, retrying once on failure.
func (d *Dispatcher) ClearCache(sessionID string) error {
	session, err := d.sessions.Get(sessionID)
	if err != nil {
		return err
	}

	err = RetryCacheMutation("clear", func() error {
		d.matcher.Clear()
		return nil
	})
	if err != nil {
		d.logger.Error("face cache clear failed", "session", sessionID, "error", err)
		session.Send(NewErrorMessage(err.Error()))
		return err
	}

	metrics.EnrolledIdentities.Set(0)
	session.Send(FaceCacheCleared{Type: TypeFaceCacheCleared, Message: "Face cache cleared"})
	d.logger.Info("face cache cleared", "session", sessionID)
	return nil
}

// ReportError sends err to the session as an error message.
func (d *Dispatcher) ReportError(sessionID string, err error) {
	session, getErr := d.sessions.Get(sessionID)
	if getErr != nil {
		return
	}
	session.Send(NewErrorMessage(err.Error()))
}

// Wait blocks until every pending notification finished.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

// notifyMatch is fire-and-forget. Failures are logged and counted, never retried.
func (d *Dispatcher) notifyMatch(event notify.MatchEvent) {
	if d.notifier == nil {
		return
	}
	d.pending.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.notifyTimeout)
		defer cancel()
		if err := d.notifier.NotifyMatch(ctx, event); err != nil {
			metrics.NotifyFailures.Inc()
			d.logger.Warn("match notification failed", "session", event.SessionID,
				"user_id", event.UserID, "error", err)
		}
	})
}

func newFaceMatchResult(match facematch.MatchResult) FaceMatchResult {
	msg := FaceMatchResult{Type: TypeFaceMatchResult, Matched: match.Matched}
	if match.Matched {
		score, confidence := match.Distance, match.Confidence
		msg.UserID = match.UserID
		msg.Score = &score
		msg.Confidence = &confidence
	}
	return msg
}
