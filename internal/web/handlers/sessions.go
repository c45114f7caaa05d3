package handlers

import (
	"net/http"

	"github.com/kozaktomas/facepay/internal/inference"
)

// SessionCounter reports the number of open streaming sessions
type SessionCounter interface {
	Count() int
}

// StatsSource reports inference pool statistics
type StatsSource interface {
	Stats() inference.Stats
}

// SessionsHandler reports live pipeline load
type SessionsHandler struct {
	sessions  SessionCounter
	scheduler StatsSource
}

// NewSessionsHandler creates a new sessions handler
func NewSessionsHandler(sessions SessionCounter, scheduler StatsSource) *SessionsHandler {
	return &SessionsHandler{sessions: sessions, scheduler: scheduler}
}

// SessionsResponse is the body of the sessions endpoint
type SessionsResponse struct {
	ActiveSessions int             `json:"active_sessions"`
	Scheduler      inference.Stats `json:"scheduler"`
}

// Get returns the active session count and scheduler statistics
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, SessionsResponse{
		ActiveSessions: h.sessions.Count(),
		Scheduler:      h.scheduler.Stats(),
	})
}
