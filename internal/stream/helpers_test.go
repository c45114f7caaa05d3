package stream

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/facepay/internal/inference"
)

// encodedFrame returns a small base64 PNG.
func encodedFrame(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16))); err != nil {
		t.Fatalf("failed to encode test frame: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// recordingScheduler keeps submitted jobs without running them.
type recordingScheduler struct {
	mu   sync.Mutex
	jobs []inference.Job
	err  error
}

func (r *recordingScheduler) Submit(job inference.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *recordingScheduler) Jobs() []inference.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]inference.Job(nil), r.jobs...)
}

type recordingSink struct {
	mu      sync.Mutex
	results []inference.Result
}

func (r *recordingSink) Deliver(result inference.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

// drain returns every message currently queued for the session.
func drain(s *Session) []Message {
	var out []Message
	for {
		select {
		case msg := <-s.Outbound():
			out = append(out, msg)
		default:
			return out
		}
	}
}

// nextMessage waits for one outbound message.
func nextMessage(t *testing.T, s *Session) Message {
	t.Helper()
	select {
	case msg := <-s.Outbound():
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return nil
	}
}

func messageTypes(msgs []Message) []string {
	types := make([]string, len(msgs))
	for i, m := range msgs {
		types[i] = m.MessageType()
	}
	return types
}
