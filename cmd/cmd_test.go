package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/runwatch/internal/app"
	"github.com/JakeFAU/runwatch/internal/config"
	"github.com/JakeFAU/runwatch/internal/runs"
)

func TestMain(m *testing.M) {
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
		return app.New(ctx, cfg, logger, app.WithRegisterer(prometheus.NewRegistry()))
	}
	os.Exit(m.Run())
}

type cliBackend struct {
	mu       sync.Mutex
	statuses map[string]string
	executed []string
	created  []string
}

func newCLIBackend(t *testing.T, statuses map[string]string) (*cliBackend, *httptest.Server) {
	t.Helper()
	b := &cliBackend{statuses: statuses}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /runs", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"id":1,"topic":"Graph neural nets","status":"completed"},{"id":3,"topic":"Soil carbon","status":"created"}]`)
	})
	mux.HandleFunc("POST /runs", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.created = append(b.created, string(body))
		b.mu.Unlock()
		fmt.Fprint(w, `{"id":2,"topic":"Protein folding","status":"created"}`)
	})
	mux.HandleFunc("GET /runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		status, ok := b.statuses[r.PathValue("id")]
		b.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"detail":"Run not found"}`)
			return
		}
		fmt.Fprintf(w, `{"id":%s,"topic":"Graph neural nets","status":%q}`, r.PathValue("id"), status)
	})
	mux.HandleFunc("GET /runs/{id}/artifacts", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"id":1,"kind":"synthesis","content":"para one"},{"id":2,"kind":"gaps","content":"missing cohort"}]`)
	})
	mux.HandleFunc("POST /runs/{id}/execute", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.executed = append(b.executed, r.PathValue("id"))
		b.mu.Unlock()
		fmt.Fprint(w, `{"status":"started"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *cliBackend) executions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.executed...)
}

func writeConfig(t *testing.T, backendURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runwatch.yaml")
	body := fmt.Sprintf(`
backend:
  base_url: %s
polling:
  running_seconds: 0.01
  idle_seconds: 0.01
  artifacts_seconds: 0.01
  tick_ms: 10
anchor:
  driver: memory
storage:
  driver: memory
  prefix: runs
logging:
  development: false
  level: error
`, backendURL)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	root, closeApp := newRootCmd()
	defer closeApp()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func TestRunsListsTable(t *testing.T) {
	t.Parallel()

	_, srv := newCLIBackend(t, nil)
	out, _, err := runCLI(t, "--config", writeConfig(t, srv.URL), "runs")

	require.NoError(t, err)
	require.Contains(t, out, "Graph neural nets")
	require.Contains(t, out, "Soil carbon")
}

func TestRunsCreateValidatesTopic(t *testing.T) {
	t.Parallel()

	b, srv := newCLIBackend(t, nil)
	_, _, err := runCLI(t, "--config", writeConfig(t, srv.URL), "runs", "create", "--topic", "ab")

	require.ErrorContains(t, err, "invalid run request")
	require.Empty(t, b.created)
}

func TestRunsCreateAndExecute(t *testing.T) {
	t.Parallel()

	b, srv := newCLIBackend(t, nil)
	out, _, err := runCLI(t, "--config", writeConfig(t, srv.URL),
		"runs", "create", "--topic", "  Protein folding ", "--notes", "focus on 2023", "--execute")

	require.NoError(t, err)
	require.Contains(t, out, "Created run #2")
	require.Contains(t, out, "Execution requested for run #2")
	require.Equal(t, []string{"2"}, b.executions())
	require.Len(t, b.created, 1)
	require.Contains(t, b.created[0], `"topic":"Protein folding"`)
}

func TestWatchCompletedRunPrintsArtifacts(t *testing.T) {
	t.Parallel()

	_, srv := newCLIBackend(t, map[string]string{"1": "completed"})
	out, _, err := runCLI(t, "--config", writeConfig(t, srv.URL), "watch", "1")

	require.NoError(t, err)
	require.Contains(t, out, "Run #1")
	require.Contains(t, out, "100%")
	require.Contains(t, out, "para one")
	require.NotContains(t, out, "missing cohort")
}

func TestWatchOnceStopsAfterFirstFrame(t *testing.T) {
	t.Parallel()

	_, srv := newCLIBackend(t, map[string]string{"4": "running"})
	out, _, err := runCLI(t, "--config", writeConfig(t, srv.URL), "watch", "4", "--once")

	require.NoError(t, err)
	require.Contains(t, out, "Run #4")
	require.Contains(t, out, "Current step:")
}

func TestWatchMissingRunExitsWithError(t *testing.T) {
	t.Parallel()

	_, srv := newCLIBackend(t, map[string]string{})
	_, stderr, err := runCLI(t, "--config", writeConfig(t, srv.URL), "watch", "9")

	require.ErrorIs(t, err, runs.ErrNotFound)
	require.Contains(t, stderr, "Resource not found")
}

func TestWatchRejectsBadArguments(t *testing.T) {
	t.Parallel()

	_, srv := newCLIBackend(t, nil)
	cfg := writeConfig(t, srv.URL)

	_, _, err := runCLI(t, "--config", cfg, "watch", "abc")
	require.ErrorContains(t, err, "invalid run id")

	_, _, err = runCLI(t, "--config", cfg, "watch", "1", "--category", "figures")
	require.ErrorContains(t, err, "unknown category")
}

func TestExecuteTriggersRun(t *testing.T) {
	t.Parallel()

	b, srv := newCLIBackend(t, map[string]string{"3": "created"})
	out, _, err := runCLI(t, "--config", writeConfig(t, srv.URL), "execute", "3")

	require.NoError(t, err)
	require.Contains(t, out, "Execution requested for run #3")
	require.Equal(t, []string{"3"}, b.executions())
}

func TestArtifactsByCategory(t *testing.T) {
	t.Parallel()

	_, srv := newCLIBackend(t, map[string]string{"1": "completed"})
	out, _, err := runCLI(t, "--config", writeConfig(t, srv.URL), "artifacts", "1", "--category", "gaps")

	require.NoError(t, err)
	require.Contains(t, out, "missing cohort")
	require.NotContains(t, out, "para one")
}

func TestArtifactsExport(t *testing.T) {
	t.Parallel()

	_, srv := newCLIBackend(t, map[string]string{"1": "completed"})
	cfg := writeConfig(t, srv.URL)

	out, _, err := runCLI(t, "--config", cfg, "artifacts", "1", "--export", "txt")
	require.NoError(t, err)
	require.Contains(t, out, "memory://runs/1/Graph_neural_nets_synthesis.txt")

	_, _, err = runCLI(t, "--config", cfg, "artifacts", "1", "--export", "pdf")
	require.ErrorContains(t, err, "unsupported export format")
}

func TestBackendURLFlagOverridesConfig(t *testing.T) {
	t.Parallel()

	_, srv := newCLIBackend(t, nil)
	out, _, err := runCLI(t, "--config", writeConfig(t, "http://127.0.0.1:1"), "--backend-url", srv.URL, "runs")

	require.NoError(t, err)
	require.Contains(t, out, "Graph neural nets")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	_, srv := newCLIBackend(t, map[string]string{"1": "running"})
	cfg, err := config.Load(writeConfig(t, srv.URL))
	require.NoError(t, err)
	appInstance, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = appInstance.Close(context.Background()) })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, appInstance, ln) }()

	url := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && strings.Contains(string(body), "ok")
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
