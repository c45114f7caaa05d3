package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/facepay/internal/constants"
	"github.com/kozaktomas/facepay/internal/metrics"
)

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Workers                int           // fixed pool size, independent of the number of sessions
	QueueSize              int           // jobs waiting for a worker; Submit fails beyond this
	MinDetectionConfidence float64       // faces below this score are reported without an embedding
	Timeout                time.Duration // budget for detect + embed of one frame, 0 = none
	Logger                 *slog.Logger
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Workers       int    `json:"workers"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Busy          int64  `json:"busy"`
	Processed     uint64 `json:"processed"`
	Failed        uint64 `json:"failed"`
}

// Scheduler runs jobs on a fixed pool of workers fed by a bounded queue.
// It never blocks the caller: a full queue is reported as ErrQueueFull.
type Scheduler struct {
	detector Detector
	embedder Embedder
	opts     SchedulerOptions
	logger   *slog.Logger

	jobs    chan Job
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	busy      atomic.Int64
	processed atomic.Uint64
	failed    atomic.Uint64
}

// NewScheduler creates a scheduler and starts its workers.
func NewScheduler(detector Detector, embedder Embedder, opts SchedulerOptions) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = constants.DefaultWorkers
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		detector: detector,
		embedder: embedder,
		opts:     opts,
		logger:   opts.Logger.With("component", "scheduler"),
		jobs:     make(chan Job, opts.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := range opts.Workers {
		s.wg.Go(func() { s.worker(i) })
	}
	return s
}

// Submit enqueues job without blocking.
func (s *Scheduler) Submit(job Job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	select {
	case s.jobs <- job:
		metrics.InferenceQueueDepth.Set(float64(len(s.jobs)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels running inferences, fails queued jobs and waits for the workers to exit.
// It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	close(s.jobs)
	s.mu.Unlock()

	s.wg.Wait()
}

// Stats returns current pool statistics.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Workers:       s.opts.Workers,
		QueueDepth:    len(s.jobs),
		QueueCapacity: cap(s.jobs),
		Busy:          s.busy.Load(),
		Processed:     s.processed.Load(),
		Failed:        s.failed.Load(),
	}
}

func (s *Scheduler) worker(id int) {
	for job := range s.jobs {
		metrics.InferenceQueueDepth.Set(float64(len(s.jobs)))

		if job.Canceled != nil && job.Canceled() {
			s.finish(job, Result{SessionID: job.Frame.SessionID, Seq: job.Frame.Seq, Skipped: true})
			continue
		}
		if s.ctx.Err() != nil {
			s.finish(job, Result{
				SessionID: job.Frame.SessionID,
				Seq:       job.Frame.Seq,
				Err:       s.inferenceError(job.Frame, StageStop, ErrSchedulerStopped),
			})
			continue
		}

		s.busy.Add(1)
		metrics.InferenceBusyWorkers.Inc()
		result := s.process(job.Frame)
		s.busy.Add(-1)
		metrics.InferenceBusyWorkers.Dec()

		s.processed.Add(1)
		metrics.InferenceDuration.Observe(result.Duration.Seconds())
		var infErr *InferenceError
		if errors.As(result.Err, &infErr) {
			s.failed.Add(1)
			metrics.InferenceErrors.WithLabelValues(infErr.Stage).Inc()
			s.logger.Warn("inference failed", "worker", id, "session", job.Frame.SessionID,
				"seq", job.Frame.Seq, "stage", infErr.Stage, "error", infErr.Err)
		}
		s.finish(job, result)
	}
}

// finish hands the result to the job's callback. A panicking callback must not take the worker down.
func (s *Scheduler) finish(job Job, result Result) {
	if job.Done == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("result callback panicked", "session", job.Frame.SessionID, "panic", r)
		}
	}()
	job.Done(result)
}

// process runs detection and then embedding for every face that clears the
// minimum detection confidence. A failed embedding leaves that face without one.
func (s *Scheduler) process(frame Frame) (result Result) {
	start := time.Now()
	result = Result{SessionID: frame.SessionID, Seq: frame.Seq}
	defer func() {
		if r := recover(); r != nil {
			result.Faces = nil
			result.Err = s.inferenceError(frame, StagePanic, fmt.Errorf("%v", r))
		}
		result.Duration = time.Since(start)
	}()

	ctx := s.ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	detections, err := s.detector.Detect(ctx, frame.Image)
	if err != nil {
		result.Err = s.inferenceError(frame, StageDetect, err)
		return result
	}

	faces := make([]DetectedFace, 0, len(detections))
	for _, det := range detections {
		face := DetectedFace{BBox: det.BBox, Confidence: det.Confidence}
		// The minimum is inclusive, a face scored exactly at it is embedded.
		if det.Confidence >= s.opts.MinDetectionConfidence && !det.BBox.Empty() {
			embedding, err := s.embedder.Embed(ctx, frame.Image, det.BBox)
			if ctxErr := ctx.Err(); ctxErr != nil {
				result.Err = s.inferenceError(frame, StageEmbed, ctxErr)
				return result
			}
			if err != nil {
				s.logger.Debug("embedding failed", "session", frame.SessionID, "seq", frame.Seq, "error", err)
			} else {
				face.Embedding = embedding
			}
		}
		faces = append(faces, face)
	}
	result.Faces = faces
	return result
}

func (s *Scheduler) inferenceError(frame Frame, stage string, err error) *InferenceError {
	return &InferenceError{SessionID: frame.SessionID, Seq: frame.Seq, Stage: stage, Err: err}
}
