// Package server exposes the engine over HTTP: a WebSocket endpoint that
// streams highlight snippets and live commentary for one URL per
// connection, plus health, metrics, and status endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/observability"
	"github.com/clipforge/clipforge/internal/pipeline"
)

// RunStarter processes one URL end to end, emitting through the emitter.
// Implemented by pipeline.Runner.
type RunStarter interface {
	Run(ctx context.Context, url string, live *bool, emitter pipeline.Emitter) error
}

// Server is the HTTP front end.
type Server struct {
	cfg        config.ServerConfig
	router     *chi.Mux
	httpServer *http.Server
	runs       RunStarter
	sampleRate int
	logger     *slog.Logger
}

// NewServer builds the router and handlers. The commentary sample rate is
// echoed in commentary message metadata so clients can configure playback.
func NewServer(cfg *config.Config, runs RunStarter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:        cfg.Server,
		runs:       runs,
		sampleRate: cfg.Commentary.AudioSampleRate,
		logger:     observability.WithComponent(logger, "server"),
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)

	router.Get("/healthz", s.handleHealth)
	router.Get("/api/status", s.handleStatus)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/ws/video-snippets", s.handleVideoSnippets)

	s.router = router
	return s
}

// Router exposes the chi mux, mainly for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// Start runs the listener until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("starting HTTP server", slog.String("address", s.cfg.Address()))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// up to the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("shutting down HTTP server",
		slog.Duration("timeout", s.cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// ListenAndServe starts the server and blocks until the context is
// cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}
