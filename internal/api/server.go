// Package api serves the optional read-only status listener. It never
// dispatches requests; the NDJSON stdin/stdout stream is the only request
// transport.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opsbridge/kubebridge/internal/audit"
)

// Config holds status listener configuration.
type Config struct {
	Listen  string
	Version string
}

// Server is the HTTP status server.
type Server struct {
	config    Config
	auditor   *audit.Recorder
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a status server. auditor may be nil when auditing is disabled;
// /stats then returns 404.
func New(config Config, auditor *audit.Recorder, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		auditor:   auditor,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("status server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("status server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Routes builds the router. Exported so tests can drive it with httptest.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/version", s.handleVersion)
	r.Get("/stats", s.handleStats)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    s.config.Version,
		"started_at": s.startedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.auditor == nil {
		http.NotFound(w, r)
		return
	}

	stats, err := s.auditor.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to read stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read stats"})
		return
	}
	if stats == nil {
		stats = []audit.MethodCount{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"methods": stats})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
