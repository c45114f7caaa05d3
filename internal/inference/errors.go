package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned by Submit when every worker is busy and the queue is at capacity.
	ErrQueueFull = errors.New("inference queue full")
	// ErrSchedulerStopped is returned by Submit after Stop.
	ErrSchedulerStopped = errors.New("inference scheduler stopped")
)

// Inference stages reported in InferenceError.
const (
	StageDetect = "detect"
	StageEmbed  = "embed"
	StagePanic  = "panic"
	StageStop   = "stop"
)

// InferenceError is a detection or embedding failure for one frame.
type InferenceError struct {
	SessionID string
	Seq       uint64
	Stage     string
	Err       error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s failed for frame %d: %v", e.Stage, e.Seq, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
