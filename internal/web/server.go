package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/facepay/internal/database"
	"github.com/kozaktomas/facepay/internal/facematch"
	"github.com/kozaktomas/facepay/internal/web/handlers"
	"github.com/kozaktomas/facepay/internal/web/middleware"
)

// Dependencies are the pipeline components the server exposes
type Dependencies struct {
	Matcher    *facematch.Matcher
	Identities database.IdentityWriter   // nil without a database
	Matches    database.MatchEventReader // nil without a database
	Database   handlers.Pinger           // nil without a database
	Sessions   handlers.SessionCounter
	Scheduler  handlers.StatsSource
	Stream     http.Handler // websocket endpoint
	Origins    *middleware.Origins
	Model      string
	Logger     *slog.Logger
}

// Server represents the web server
type Server struct {
	deps       Dependencies
	router     *chi.Mux
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new web server
func NewServer(deps Dependencies, host string, port int) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Origins == nil {
		deps.Origins = middleware.NewOrigins(nil)
	}

	r := chi.NewRouter()
	s := &Server{
		deps:   deps,
		router: r,
		logger: deps.Logger.With("component", "web"),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(deps.Origins))

	s.setupRoutes()

	// No WriteTimeout: websocket connections set their own deadlines.
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server. Hijacked websocket connections
// are not tracked by net/http and must be closed by the session manager.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
