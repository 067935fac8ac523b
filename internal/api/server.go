package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/runwatch/internal/metrics"
	"github.com/JakeFAU/runwatch/internal/runs"
	"github.com/JakeFAU/runwatch/internal/tracker"
)

const (
	defaultRequestTimeout = 60 * time.Second
	readyTimeout          = 3 * time.Second
)

// Tracker is the slice of tracker.Manager the handlers depend on.
type Tracker interface {
	Ensure(runID int64) (*tracker.Session, error)
	Execute(ctx context.Context, runID int64) (*tracker.Session, error)
	Forget(runID int64) bool
}

var _ Tracker = (*tracker.Manager)(nil)

// HealthChecker probes the backend for the readiness endpoint.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Options wires the server's collaborators. Only Tracker is required for the
// /v1 routes; a nil Exports disables the export endpoint.
type Options struct {
	Tracker        Tracker
	Health         HealthChecker
	Exports        runs.BlobStore
	ExportPrefix   string
	APIKey         string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the tracker manager.
type Server struct {
	router       chi.Router
	tracker      Tracker
	health       HealthChecker
	exports      runs.BlobStore
	exportPrefix string
	logger       *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	s := &Server{
		tracker:      opts.Tracker,
		health:       opts.Health,
		exports:      opts.Exports,
		exportPrefix: opts.ExportPrefix,
		logger:       logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/runs/{run_id}", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/progress", s.getProgress)
		r.Get("/artifacts", s.getArtifacts)
		r.Post("/execute", s.executeRun)
		r.Post("/exports", s.exportArtifacts)
		r.Delete("/watch", s.forgetRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := s.health.Health(ctx); err != nil {
		s.logger.Warn("backend not ready", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
