package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/facepay/internal/metrics"
)

// State is the lifecycle state of a session.
type State int32

const (
	StateConnecting State = iota
	StateStreaming        // open, detection disabled
	StateDetecting        // open, detection enabled
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateDetecting:
		return "DETECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session is the per-connection state. The in-flight flag is orthogonal to State.
type Session struct {
	ID        string
	CreatedAt time.Time

	state        atomic.Int32
	inFlight     atomic.Bool
	lastAccepted atomic.Int64 // unix nanoseconds
	seq          atomic.Uint64
	dropped      atomic.Uint64

	outbound  chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id string, outboundBuffer int) *Session {
	if outboundBuffer <= 0 {
		outboundBuffer = 1
	}
	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		outbound:  make(chan Message, outboundBuffer),
		done:      make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// DetectionEnabled reports whether frames are forwarded to inference.
func (s *Session) DetectionEnabled() bool {
	return s.State() == StateDetecting
}

// InFlight reports whether an inference is running for this session.
func (s *Session) InFlight() bool {
	return s.inFlight.Load()
}

// LastAcceptedAt returns when the last frame was forwarded to inference.
func (s *Session) LastAcceptedAt() time.Time {
	n := s.lastAccepted.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	return s.State() == StateClosed
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Outbound is the queue drained by the connection writer.
func (s *Session) Outbound() <-chan Message {
	return s.outbound
}

// DroppedMessages returns how many outbound messages were discarded.
func (s *Session) DroppedMessages() uint64 {
	return s.dropped.Load()
}

// Send enqueues msg without blocking. A full queue drops the message.
func (s *Session) Send(msg Message) bool {
	if s.Closed() {
		return false
	}
	select {
	case s.outbound <- msg:
		return true
	default:
		s.dropped.Add(1)
		metrics.OutboundDropped.Inc()
		return false
	}
}

// transition moves to next unless the session is closed.
func (s *Session) transition(next State) bool {
	for {
		cur := s.state.Load()
		if State(cur) == StateClosed {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

// tryBeginInference marks the session in-flight and assigns the next frame sequence.
func (s *Session) tryBeginInference(now time.Time) (uint64, bool) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return 0, false
	}
	s.lastAccepted.Store(now.UnixNano())
	return s.seq.Add(1), true
}

func (s *Session) endInference() {
	s.inFlight.Store(false)
}

// close marks the session closed. Only the first call has an effect.
func (s *Session) close() bool {
	closed := false
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		closed = true
	})
	return closed
}
