package stream

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/kozaktomas/facepay/internal/inference"
	"github.com/kozaktomas/facepay/internal/metrics"
)

// Submitter accepts inference jobs without blocking.
type Submitter interface {
	Submit(job inference.Job) error
}

// ResultSink receives finished inference results.
type ResultSink interface {
	Deliver(result inference.Result)
}

// Ingestor decodes client frames and forwards at most one frame per session
// to inference. Frames arriving while a session is busy are dropped.
type Ingestor struct {
	sessions      *Manager
	scheduler     Submitter
	sink          ResultSink
	maxFrameBytes int
	logger        *slog.Logger
	now           func() time.Time
}

// NewIngestor creates an ingestor. maxFrameBytes limits the encoded payload, 0 disables the limit.
func NewIngestor(sessions *Manager, scheduler Submitter, sink ResultSink, maxFrameBytes int, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		sessions:      sessions,
		scheduler:     scheduler,
		sink:          sink,
		maxFrameBytes: maxFrameBytes,
		logger:        logger.With("component", "ingest"),
		now:           time.Now,
	}
}

// Submit handles one video_frame payload. It returns a *FrameDecodeError for
// malformed frames and ErrSessionNotFound for unknown sessions; dropped frames
// are not errors.
func (i *Ingestor) Submit(sessionID, encoded string) error {
	metrics.FramesReceived.Inc()

	session, err := i.sessions.Get(sessionID)
	if err != nil {
		i.logger.Debug("frame for unknown session", "session", sessionID)
		return err
	}

	img, err := i.decode(encoded)
	if err != nil {
		metrics.FramesDropped.WithLabelValues(metrics.DropDecode).Inc()
		return &FrameDecodeError{SessionID: sessionID, Err: err}
	}

	if !session.DetectionEnabled() {
		metrics.FramesDropped.WithLabelValues(metrics.DropDisabled).Inc()
		return nil
	}

	now := i.now()
	seq, ok := session.tryBeginInference(now)
	if !ok {
		metrics.FramesDropped.WithLabelValues(metrics.DropInFlight).Inc()
		return nil
	}

	job := inference.Job{
		Frame: inference.Frame{
			Image:      img,
			Seq:        seq,
			SessionID:  sessionID,
			ReceivedAt: now,
		},
		Canceled: session.Closed,
		Done: func(result inference.Result) {
			session.endInference()
			i.sink.Deliver(result)
		},
	}

	if err := i.scheduler.Submit(job); err != nil {
		session.endInference()
		if errors.Is(err, inference.ErrQueueFull) {
			metrics.FramesDropped.WithLabelValues(metrics.DropQueueFull).Inc()
			i.logger.Debug("inference queue full, frame dropped", "session", sessionID, "seq", seq)
			return nil
		}
		return fmt.Errorf("failed to schedule frame: %w", err)
	}

	metrics.FramesAccepted.Inc()
	return nil
}

// decode accepts plain base64 or a data URL.
func (i *Ingestor) decode(encoded string) (image.Image, error) {
	if encoded == "" {
		return nil, errors.New("empty frame")
	}
	if i.maxFrameBytes > 0 && len(encoded) > i.maxFrameBytes {
		return nil, fmt.Errorf("frame exceeds %d bytes", i.maxFrameBytes)
	}
	if strings.HasPrefix(encoded, "data:") {
		_, payload, found := strings.Cut(encoded, ",")
		if !found {
			return nil, errors.New("malformed data URL")
		}
		encoded = payload
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return inference.DecodeImage(data)
}
