package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/facepay/internal/constants"
	"github.com/kozaktomas/facepay/internal/database"
	"github.com/kozaktomas/facepay/internal/facematch"
	"github.com/kozaktomas/facepay/internal/metrics"
	"github.com/kozaktomas/facepay/internal/stream"
)

// IdentitiesHandler manages the enrolled gallery
type IdentitiesHandler struct {
	matcher *facematch.Matcher
	store   database.IdentityWriter // nil when running without a database
	model   string
	logger  *slog.Logger
}

// NewIdentitiesHandler creates a new identities handler
func NewIdentitiesHandler(matcher *facematch.Matcher, store database.IdentityWriter, model string, logger *slog.Logger) *IdentitiesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentitiesHandler{
		matcher: matcher,
		store:   store,
		model:   model,
		logger:  logger.With("component", "identities"),
	}
}

// IdentitiesResponse describes the in-memory gallery
type IdentitiesResponse struct {
	Count      int                         `json:"count"`
	Embeddings int                         `json:"embeddings"`
	Dim        int                         `json:"dim"`
	Metric     string                      `json:"metric"`
	Threshold  float64                     `json:"threshold"`
	Indexed    bool                        `json:"indexed"`
	Persistent bool                        `json:"persistent"`
	Identities []facematch.IdentitySummary `json:"identities"`
}

// EnrollRequest is the body of the enroll endpoint
type EnrollRequest struct {
	Name      string    `json:"name"`
	Embedding []float32 `json:"embedding"`
}

// EnrollResponse reports the identity after enrollment
type EnrollResponse struct {
	UserID     string `json:"user_id"`
	Embeddings int    `json:"embeddings"`
	Persisted  bool   `json:"persisted"`
}

// EmbeddingInfo is a stored reference embedding without its vector
type EmbeddingInfo struct {
	ID        int64     `json:"id"`
	Model     string    `json:"model"`
	Dim       int       `json:"dim"`
	CreatedAt time.Time `json:"created_at"`
}

// List returns the gallery, optionally filtered by ?q= on user id or name
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))

	identities := h.matcher.Identities()
	if query != "" {
		filtered := identities[:0]
		for _, identity := range identities {
			if facematch.NameMatches(identity, query) {
				filtered = append(filtered, identity)
			}
		}
		identities = filtered
	}

	respondJSON(w, http.StatusOK, IdentitiesResponse{
		Count:      h.matcher.Count(),
		Embeddings: h.matcher.EmbeddingCount(),
		Dim:        h.matcher.Dim(),
		Metric:     h.matcher.Metric(),
		Threshold:  h.matcher.Threshold(),
		Indexed:    h.matcher.Indexed(),
		Persistent: h.store != nil,
		Identities: identities,
	})
}

// Enroll adds one reference embedding for the user in the URL. The vector is
// persisted first when a store is configured, then inserted into the cache.
func (h *IdentitiesHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user id is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxEnrollBodySize)
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.Embedding) == 0 || database.Norm(req.Embedding) == 0 {
		respondError(w, http.StatusBadRequest, "embedding must be a non-zero vector")
		return
	}
	if dim := h.matcher.Dim(); dim != 0 && len(req.Embedding) != dim {
		respondError(w, http.StatusBadRequest, facematch.ErrDimensionMismatch.Error())
		return
	}

	if h.store != nil {
		if err := h.store.SaveEmbedding(r.Context(), userID, req.Name, req.Embedding, h.model); err != nil {
			h.logger.Error("failed to persist embedding", "user_id", sanitizeForLog(userID), "error", err)
			respondError(w, http.StatusInternalServerError, "failed to persist embedding")
			return
		}
	}

	err := stream.RetryCacheMutation("insert", func() error {
		return h.matcher.Insert(userID, req.Name, req.Embedding)
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, facematch.ErrInvalidIdentity) || errors.Is(err, facematch.ErrDimensionMismatch) {
			status = http.StatusBadRequest
		}
		h.logger.Error("face cache insert failed", "user_id", sanitizeForLog(userID), "error", err)
		respondError(w, status, err.Error())
		return
	}
	metrics.EnrolledIdentities.Set(float64(h.matcher.Count()))

	embeddings := 0
	for _, identity := range h.matcher.Identities() {
		if identity.UserID == userID {
			embeddings = identity.Embeddings
			break
		}
	}

	h.logger.Info("identity enrolled", "user_id", sanitizeForLog(userID), "embeddings", embeddings)
	respondJSON(w, http.StatusCreated, EnrollResponse{
		UserID:     userID,
		Embeddings: embeddings,
		Persisted:  h.store != nil,
	})
}

// Embeddings lists the stored reference embeddings of one identity
func (h *IdentitiesHandler) Embeddings(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}

	userID := chi.URLParam(r, "userID")
	rows, err := h.store.ListEmbeddings(r.Context(), userID)
	if errors.Is(err, database.ErrIdentityNotFound) {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to list embeddings", "user_id", sanitizeForLog(userID), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list embeddings")
		return
	}

	result := make([]EmbeddingInfo, 0, len(rows))
	for _, row := range rows {
		result = append(result, EmbeddingInfo{ID: row.ID, Model: row.Model, Dim: row.Dim, CreatedAt: row.CreatedAt})
	}
	respondJSON(w, http.StatusOK, result)
}

// ClearCache empties the in-memory gallery. Stored identities are kept and
// come back on the next reload.
func (h *IdentitiesHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	err := stream.RetryCacheMutation("clear", func() error {
		h.matcher.Clear()
		return nil
	})
	if err != nil {
		h.logger.Error("face cache clear failed", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.EnrolledIdentities.Set(0)
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// Reload replaces the gallery with the stored embeddings of the active model
func (h *IdentitiesHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}

	identities, err := h.store.ListIdentities(r.Context(), h.model)
	if err != nil {
		h.logger.Error("failed to list identities", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load identities")
		return
	}
	if err := h.matcher.Load(identities); err != nil {
		h.logger.Error("failed to load face cache", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.EnrolledIdentities.Set(float64(h.matcher.Count()))

	h.logger.Info("face cache reloaded", "identities", h.matcher.Count(), "embeddings", h.matcher.EmbeddingCount())
	respondJSON(w, http.StatusOK, map[string]int{
		"count":      h.matcher.Count(),
		"embeddings": h.matcher.EmbeddingCount(),
	})
}
