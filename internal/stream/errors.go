package stream

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned for operations on an unknown or closed session.
var ErrSessionNotFound = errors.New("session not found")

// FrameDecodeError is a malformed video frame payload.
type FrameDecodeError struct {
	SessionID string
	Err       error
}

func (e *FrameDecodeError) Error() string {
	return fmt.Sprintf("failed to decode frame: %v", e.Err)
}

func (e *FrameDecodeError) Unwrap() error {
	return e.Err
}

// CacheMutationError is a failed clear or insert on the embedding cache.
type CacheMutationError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *CacheMutationError) Error() string {
	return fmt.Sprintf("face cache %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *CacheMutationError) Unwrap() error {
	return e.Err
}

// RetryCacheMutation runs fn and retries it once on failure. A panic counts as a failure.
func RetryCacheMutation(op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		err = runRecovered(fn)
		if err == nil {
			return nil
		}
	}
	return &CacheMutationError{Op: op, Attempts: 2, Err: err}
}

func runRecovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
