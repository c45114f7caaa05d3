package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/facepay/internal/constants"
	"github.com/kozaktomas/facepay/internal/database"
)

// MatchesHandler exposes recorded match events to the payment layer
type MatchesHandler struct {
	store  database.MatchEventReader // nil when running without a database
	logger *slog.Logger
}

// NewMatchesHandler creates a new matches handler
func NewMatchesHandler(store database.MatchEventReader, logger *slog.Logger) *MatchesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatchesHandler{store: store, logger: logger.With("component", "matches")}
}

// MatchEventResponse is one recorded match
type MatchEventResponse struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Distance   float64   `json:"distance"`
	Confidence float64   `json:"confidence"`
	FrameSeq   uint64    `json:"frame_seq"`
	MatchedAt  time.Time `json:"matched_at"`
}

// List returns recent match events, newest first (?user_id=, ?limit=)
func (h *MatchesHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}

	limit := constants.DefaultMatchEventLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, constants.MaxMatchEventLimit)
	}
	userID := r.URL.Query().Get("user_id")

	events, err := h.store.ListRecent(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("failed to list match events", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list match events")
		return
	}

	result := make([]MatchEventResponse, 0, len(events))
	for _, e := range events {
		result = append(result, MatchEventResponse{
			ID:         e.ID,
			SessionID:  e.SessionID,
			UserID:     e.UserID,
			Distance:   e.Distance,
			Confidence: e.Confidence,
			FrameSeq:   e.FrameSeq,
			MatchedAt:  e.MatchedAt,
		})
	}
	respondJSON(w, http.StatusOK, result)
}
