package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/runwatch/internal/artifact"
	"github.com/JakeFAU/runwatch/internal/metrics"
	"github.com/JakeFAU/runwatch/internal/progress"
	"github.com/JakeFAU/runwatch/internal/runs"
	"github.com/JakeFAU/runwatch/internal/tracker"
)

type progressResponse struct {
	RunID     int64         `json:"run_id"`
	Topic     string        `json:"topic,omitempty"`
	Loaded    bool          `json:"loaded"`
	LastError string        `json:"last_error,omitempty"`
	View      progress.View `json:"view"`
}

type artifactDTO struct {
	ID        string           `json:"id"`
	Kind      string           `json:"kind"`
	CreatedAt time.Time        `json:"created_at"`
	Content   artifact.Content `json:"content"`
}

type artifactsResponse struct {
	RunID     int64         `json:"run_id"`
	Category  string        `json:"category"`
	Artifacts []artifactDTO `json:"artifacts"`
}

type exportRequest struct {
	Category string `json:"category"`
	Format   string `json:"format"`
}

// getProgress handles GET /v1/runs/{run_id}/progress. The first request for a
// run starts tracking it, so the view may report loaded=false until the
// initial fetch lands. Hard backend errors map to 404 or 502.
func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	run, loaded := sess.Run()
	resp := progressResponse{
		RunID:  sess.RunID(),
		Topic:  run.Topic,
		Loaded: loaded,
		View:   sess.View(),
	}
	if err := sess.LastFetchError(); err != nil {
		resp.LastError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// getArtifacts handles GET /v1/runs/{run_id}/artifacts?category=. An empty
// category selects the default tab; unknown categories are rejected.
func (s *Server) getArtifacts(w http.ResponseWriter, r *http.Request) {
	category := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("category")))
	if category == "" {
		category = artifact.DefaultCategory
	}
	if !artifact.ValidCategory(category) {
		writeError(w, http.StatusBadRequest, "invalid category")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	filtered := artifact.FilterByCategory(sess.Artifacts(), category)
	out := make([]artifactDTO, 0, len(filtered))
	for _, a := range filtered {
		out = append(out, artifactDTO{
			ID:        string(a.ID),
			Kind:      a.Kind,
			CreatedAt: a.CreatedAt,
			Content:   artifact.Parse(a),
		})
	}
	writeJSON(w, http.StatusOK, artifactsResponse{
		RunID:     sess.RunID(),
		Category:  category,
		Artifacts: out,
	})
}

// executeRun handles POST /v1/runs/{run_id}/execute. It returns 202 once the
// backend accepted the trigger.
func (s *Server) executeRun(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "tracker unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.tracker.Execute(r.Context(), runID); err != nil {
		s.logger.Error("execute run failed", zap.Int64("run_id", runID), zap.Error(err))
		s.writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"status": "execution requested",
	})
}

// exportArtifacts handles POST /v1/runs/{run_id}/exports with a JSON body of
// {"category", "format"}. It writes the filtered artifacts to the configured
// blob store and returns the object URI.
func (s *Server) exportArtifacts(w http.ResponseWriter, r *http.Request) {
	if s.exports == nil {
		writeError(w, http.StatusServiceUnavailable, "exports are not configured")
		return
	}
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Category == "" {
		req.Category = artifact.DefaultCategory
	}
	if req.Format == "" {
		req.Format = artifact.FormatJSON
	}
	if !artifact.ValidCategory(req.Category) {
		writeError(w, http.StatusBadRequest, "invalid category")
		return
	}
	if req.Format != artifact.FormatJSON && req.Format != artifact.FormatText {
		writeError(w, http.StatusBadRequest, "invalid format")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	run, loaded := sess.Run()
	if !loaded {
		writeError(w, http.StatusConflict, "run not loaded yet")
		return
	}
	uri, err := artifact.Export(r.Context(), s.exports, artifact.ExportRequest{
		RunID:    run.ID,
		Topic:    run.Topic,
		Category: req.Category,
		Format:   req.Format,
		Prefix:   s.exportPrefix,
	}, sess.Artifacts())
	if err != nil {
		s.logger.Error("export failed", zap.Int64("run_id", run.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export artifacts")
		return
	}
	metrics.ObserveExport(req.Category, req.Format)
	writeJSON(w, http.StatusCreated, map[string]string{"uri": uri})
}

// forgetRun handles DELETE /v1/runs/{run_id}/watch.
func (s *Server) forgetRun(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "tracker unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.tracker.Forget(runID) {
		writeError(w, http.StatusNotFound, "run is not being watched")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// session resolves the run id and its tracking session, writing the error
// response itself when it returns false.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*tracker.Session, bool) {
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "tracker unavailable")
		return nil, false
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	sess, err := s.tracker.Ensure(runID)
	if err != nil {
		s.writeTrackerError(w, err)
		return nil, false
	}
	if err := sess.Err(); err != nil {
		s.writeTrackerError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) writeTrackerError(w http.ResponseWriter, err error) {
	var apiErr *runs.APIError
	switch {
	case errors.Is(err, runs.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, runs.ErrNoRun):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracker.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, apiErr.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func parseRunID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return 0, errors.New("run_id is required")
	}
	return runs.ParseID(raw)
}
