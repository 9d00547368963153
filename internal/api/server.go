package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/crucible/internal/events"
	"github.com/mattjoyce/crucible/internal/session"
)

// SessionStats provides the live session-table summary for /health.
type SessionStats interface {
	Stats() session.Stats
}

// Config holds the HTTP server configuration.
type Config struct {
	Listen string
	// WSPath is where the WebSocket dispatcher is mounted.
	WSPath string
	// AuthToken, when set, is required as a bearer token on /health and
	// /events. /healthz and the WebSocket endpoint stay open.
	AuthToken string
	Service   string
	Version   string
}

// Server hosts the read-only HTTP surface next to the WebSocket endpoint:
// liveness probes, the health summary, and the lifecycle event stream.
type Server struct {
	config    Config
	sessions  SessionStats
	hub       *events.Hub
	wsHandler http.HandlerFunc
	logger    *slog.Logger
	server    *http.Server
}

// New creates the HTTP server. wsHandler may be nil, which leaves the
// WebSocket path unmounted (used by tests that only need the read surface).
func New(config Config, sessions SessionStats, hub *events.Hub, wsHandler http.HandlerFunc, logger *slog.Logger) *Server {
	if config.Service == "" {
		config.Service = "crucible"
	}
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		sessions:  sessions,
		hub:       hub,
		wsHandler: wsHandler,
		logger:    logger,
	}
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// SSE and WebSocket responses stream indefinitely, so no write
		// deadline at the server level.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("HTTP server starting", "listen", s.config.Listen, "ws_path", s.config.WSPath)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated: the liveness probe and the WebSocket endpoint,
	// which runs its own admission control.
	r.Get("/healthz", s.handleHealthz)
	if s.wsHandler != nil {
		r.Get(s.config.WSPath, s.wsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/health", s.handleHealth)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
