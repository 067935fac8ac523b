package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	anchormemory "github.com/JakeFAU/runwatch/internal/anchor/memory"
	"github.com/JakeFAU/runwatch/internal/clock/system"
	"github.com/JakeFAU/runwatch/internal/poll"
	"github.com/JakeFAU/runwatch/internal/runs"
	storagememory "github.com/JakeFAU/runwatch/internal/storage/memory"
	"github.com/JakeFAU/runwatch/internal/tracker"
)

type apiFakeBackend struct {
	mu        sync.Mutex
	status    runs.Status
	runErr    error
	artifacts []runs.Artifact
	executed  []int64
	healthErr error
}

func (b *apiFakeBackend) GetRun(_ context.Context, id int64) (runs.Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runErr != nil {
		return runs.Run{}, b.runErr
	}
	return runs.Run{ID: id, Topic: "Graph neural nets", Status: b.status}, nil
}

func (b *apiFakeBackend) ListArtifacts(context.Context, int64) ([]runs.Artifact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]runs.Artifact(nil), b.artifacts...), nil
}

func (b *apiFakeBackend) ExecuteRun(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.executed = append(b.executed, id)
	return nil
}

func (b *apiFakeBackend) Health(context.Context) error {
	return b.healthErr
}

func (b *apiFakeBackend) executions() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.executed...)
}

func newTestManager(t *testing.T, backend runs.Backend) *tracker.Manager {
	t.Helper()
	cfg := tracker.Config{
		Cadence:          poll.Cadence{Running: 5 * time.Millisecond, Idle: 5 * time.Millisecond},
		ArtifactInterval: 5 * time.Millisecond,
		FetchTimeout:     time.Second,
		Tick:             5 * time.Millisecond,
	}
	mgr, err := tracker.NewManager(cfg, tracker.Deps{
		Backend: backend,
		Anchors: anchormemory.New(),
		Clock:   system.New(),
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, mgr.Close(ctx))
	})
	return mgr
}

func newTestServer(t *testing.T, backend *apiFakeBackend, opts Options) *Server {
	t.Helper()
	if opts.Tracker == nil {
		opts.Tracker = newTestManager(t, backend)
	}
	opts.Logger = zap.NewNop()
	return NewServer(opts)
}

func do(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &apiFakeBackend{}, Options{})
	rec := do(t, s, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_RequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &apiFakeBackend{}, Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	backend := &apiFakeBackend{}
	s := newTestServer(t, backend, Options{Health: backend})
	rec := do(t, s, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	down := &apiFakeBackend{healthErr: errors.New("connection refused")}
	s = newTestServer(t, down, Options{Health: down})
	rec = do(t, s, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &apiFakeBackend{}, Options{})
	do(t, s, http.MethodGet, "/healthz", nil)
	rec := do(t, s, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_ProgressCompletedRun(t *testing.T) {
	t.Parallel()

	backend := &apiFakeBackend{
		status: runs.StatusCompleted,
		artifacts: []runs.Artifact{
			{ID: "1", Kind: "synthesis", Content: "para one"},
		},
	}
	s := newTestServer(t, backend, Options{})

	var resp progressResponse
	require.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, "/v1/runs/7/progress", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		resp = progressResponse{}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.Loaded && resp.View.Terminal
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, int64(7), resp.RunID)
	require.Equal(t, "Graph neural nets", resp.Topic)
	require.Equal(t, runs.StatusCompleted, resp.View.Status)
	require.Equal(t, 4, resp.View.CurrentStep)
	require.InDelta(t, 100.0, resp.View.Percent, 0.001)
	require.Len(t, resp.View.Steps, 5)
}

func TestServer_ProgressNotFound(t *testing.T) {
	t.Parallel()

	backend := &apiFakeBackend{runErr: &runs.APIError{StatusCode: http.StatusNotFound, Detail: "Resource not found"}}
	s := newTestServer(t, backend, Options{})

	require.Eventually(t, func() bool {
		return do(t, s, http.MethodGet, "/v1/runs/9/progress", nil).Code == http.StatusNotFound
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ProgressForbiddenBecomesBadGateway(t *testing.T) {
	t.Parallel()

	backend := &apiFakeBackend{runErr: &runs.APIError{StatusCode: http.StatusForbidden, Detail: "not yours"}}
	s := newTestServer(t, backend, Options{})

	var rec *httptest.ResponseRecorder
	require.Eventually(t, func() bool {
		rec = do(t, s, http.MethodGet, "/v1/runs/9/progress", nil)
		return rec.Code == http.StatusBadGateway
	}, 2*time.Second, 10*time.Millisecond)
	require.Contains(t, rec.Body.String(), "not yours")
}

func TestServer_ProgressInvalidRunID(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &apiFakeBackend{}, Options{})
	for _, id := range []string{"abc", "0", "-3"} {
		rec := do(t, s, http.MethodGet, "/v1/runs/"+id+"/progress", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, id)
	}
}

func TestServer_ArtifactsByCategory(t *testing.T) {
	t.Parallel()

	backend := &apiFakeBackend{
		status: runs.StatusRunning,
		artifacts: []runs.Artifact{
			{ID: "1", Kind: "synthesis", Content: "para"},
			{ID: "2", Kind: "gaps", Content: "gap one\n\ngap two"},
		},
	}
	s := newTestServer(t, backend, Options{})

	var resp artifactsResponse
	require.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, "/v1/runs/3/artifacts?category=GAPS", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		resp = artifactsResponse{}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			return false
		}
		return len(resp.Artifacts) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, "gaps", resp.Category)
	require.Equal(t, "2", resp.Artifacts[0].ID)
	require.Equal(t, []string{"gap one", "gap two"}, resp.Artifacts[0].Content.Gaps)
}

func TestServer_ArtifactsEmptyListIsArray(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &apiFakeBackend{status: runs.StatusCreated}, Options{})
	rec := do(t, s, http.MethodGet, "/v1/runs/3/artifacts", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"artifacts":[]`)
	require.Contains(t, rec.Body.String(), `"category":"synthesis"`)
}

func TestServer_ArtifactsInvalidCategory(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &apiFakeBackend{}, Options{})
	rec := do(t, s, http.MethodGet, "/v1/runs/3/artifacts?category=figures", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Execute(t *testing.T) {
	t.Parallel()

	backend := &apiFakeBackend{status: runs.StatusCreated}
	s := newTestServer(t, backend, Options{})
	rec := do(t, s, http.MethodPost, "/v1/runs/11/execute", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []int64{11}, backend.executions())
}

func TestServer_ForgetWatch(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &apiFakeBackend{status: runs.StatusRunning}, Options{})
	rec := do(t, s, http.MethodDelete, "/v1/runs/5/watch", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/runs/5/progress", nil).Code)
	rec = do(t, s, http.MethodDelete, "/v1/runs/5/watch", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServer_Export(t *testing.T) {
	t.Parallel()

	backend := &apiFakeBackend{
		status: runs.StatusCompleted,
		artifacts: []runs.Artifact{
			{ID: "1", Kind: "synthesis", Content: "first"},
			{ID: "2", Kind: "synthesis", Content: "second"},
		},
	}
	blobs := storagememory.NewBlobStore()
	s := newTestServer(t, backend, Options{Exports: blobs, ExportPrefix: "exports"})

	body := []byte(`{"category":"synthesis","format":"txt"}`)
	var rec *httptest.ResponseRecorder
	require.Eventually(t, func() bool {
		rec = do(t, s, http.MethodPost, "/v1/runs/4/exports", body)
		if rec.Code != http.StatusCreated {
			return false
		}
		obj, ok := blobs.Get("exports/4/Graph_neural_nets_synthesis.txt")
		return ok && strings.Contains(string(obj.Data), "second")
	}, 2*time.Second, 10*time.Millisecond)

	require.Contains(t, rec.Body.String(), "memory://exports/4/Graph_neural_nets_synthesis.txt")
}

func TestServer_ExportValidation(t *testing.T) {
	t.Parallel()

	backend := &apiFakeBackend{status: runs.StatusRunning}
	s := newTestServer(t, backend, Options{Exports: storagememory.NewBlobStore()})

	rec := do(t, s, http.MethodPost, "/v1/runs/4/exports", []byte(`{`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodPost, "/v1/runs/4/exports", []byte(`{"format":"pdf"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	noStore := newTestServer(t, backend, Options{})
	rec = do(t, noStore, http.MethodPost, "/v1/runs/4/exports", []byte(`{}`))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_APIKeyRequired(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &apiFakeBackend{status: runs.StatusRunning}, Options{APIKey: "secret"})

	rec := do(t, s, http.MethodGet, "/v1/runs/1/progress", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/1/progress", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", nil).Code)
}

func TestServer_NoTracker(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{})
	rec := do(t, s, http.MethodGet, "/v1/runs/1/progress", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
