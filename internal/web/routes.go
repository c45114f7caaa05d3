package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/facepay/internal/web/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	identitiesHandler := handlers.NewIdentitiesHandler(s.deps.Matcher, s.deps.Identities, s.deps.Model, s.deps.Logger)
	matchesHandler := handlers.NewMatchesHandler(s.deps.Matches, s.deps.Logger)
	sessionsHandler := handlers.NewSessionsHandler(s.deps.Sessions, s.deps.Scheduler)
	healthHandler := handlers.NewHealthHandler(s.deps.Database)

	s.router.Get("/api/v1/health", healthHandler.Check)
	s.router.Handle("/metrics", promhttp.Handler())

	// The websocket lives outside the API group so the request timeout does not apply.
	s.router.Handle("/ws/face-recognition", s.deps.Stream)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(30 * time.Second))

		// Identities
		r.Get("/identities", identitiesHandler.List)
		r.Delete("/identities/cache", identitiesHandler.ClearCache)
		r.Post("/identities/reload", identitiesHandler.Reload)
		r.Get("/identities/{userID}/embeddings", identitiesHandler.Embeddings)
		r.Post("/identities/{userID}/embeddings", identitiesHandler.Enroll)

		// Matches
		r.Get("/matches", matchesHandler.List)

		// Sessions
		r.Get("/sessions", sessionsHandler.Get)
	})
}
