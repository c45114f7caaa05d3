package stream

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kozaktomas/facepay/internal/constants"
	"github.com/kozaktomas/facepay/internal/metrics"
)

// Manager owns every open session.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	outboundBuffer int
	logger         *slog.Logger
}

// NewManager creates a session manager. outboundBuffer bounds each session's outbound queue.
func NewManager(outboundBuffer int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:       make(map[string]*Session),
		outboundBuffer: outboundBuffer,
		logger:         logger.With("component", "sessions"),
	}
}

// Open creates a session, queues the connection_established greeting and
// moves it to STREAMING with detection disabled.
func (m *Manager) Open() *Session {
	s := newSession(uuid.NewString(), m.outboundBuffer)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	metrics.ActiveSessions.Inc()

	s.Send(ConnectionEstablished{
		Type:     TypeConnectionEstablished,
		ClientID: s.ID,
		Message:  constants.ConnectionEstablishedMessage,
	})
	s.transition(StateStreaming)

	m.logger.Info("session opened", "session", s.ID)
	return s
}

// Close tears the session down. Queued work for it is skipped and in-flight
// results are discarded on delivery.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	if s.close() {
		metrics.ActiveSessions.Dec()
		m.logger.Info("session closed", "session", id,
			"dropped_messages", s.DroppedMessages())
	}
	return nil
}

// CloseAll closes every open session.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Close(id)
	}
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok || s.Closed() {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// SetDetection toggles whether frames of the session are forwarded to
// inference and acknowledges the toggle to the client.
func (m *Manager) SetDetection(id string, enabled bool) error {
	s, err := m.Get(id)
	if err != nil {
		m.logger.Warn("detection toggle for unknown session", "session", id)
		return err
	}

	next := StateStreaming
	if enabled {
		next = StateDetecting
	}
	if !s.transition(next) {
		return ErrSessionNotFound
	}
	s.Send(FaceDetectionToggled{Type: TypeFaceDetectionToggled, Enabled: enabled})

	m.logger.Info("face detection toggled", "session", id, "enabled", enabled)
	return nil
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
