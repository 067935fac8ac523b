// Package backend talks to the research orchestrator's HTTP API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/runwatch/internal/metrics"
	"github.com/JakeFAU/runwatch/internal/runs"
)

// DefaultTimeout mirrors the orchestrator's long-running request budget.
const DefaultTimeout = 600 * time.Second

const maxErrorBody = 64 << 10

const tracerName = "github.com/JakeFAU/runwatch/internal/backend"

// Config controls the HTTP client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Token   string
}

// Client implements runs.Backend and runs.Directory over HTTP.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	validate   *validator.Validate
	logger     *zap.Logger
}

var (
	_ runs.Backend   = (*Client)(nil)
	_ runs.Directory = (*Client)(nil)
)

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("backend.base_url is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend url must be http or https, got %q", base.Scheme)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    base,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: httpClient,
		validate:   validator.New(),
		logger:     logger,
	}, nil
}

// GetRun fetches one run.
func (c *Client) GetRun(ctx context.Context, id int64) (runs.Run, error) {
	var run runs.Run
	if err := c.do(ctx, "get_run", http.MethodGet, runPath(id), nil, &run); err != nil {
		return runs.Run{}, err
	}
	if err := c.validate.Struct(run); err != nil {
		return runs.Run{}, fmt.Errorf("invalid run payload: %w", err)
	}
	return run, nil
}

// ListArtifacts fetches every artifact of a run in backend order.
func (c *Client) ListArtifacts(ctx context.Context, id int64) ([]runs.Artifact, error) {
	var artifacts []runs.Artifact
	if err := c.do(ctx, "list_artifacts", http.MethodGet, runPath(id)+"/artifacts", nil, &artifacts); err != nil {
		return nil, err
	}
	if artifacts == nil {
		artifacts = []runs.Artifact{}
	}
	return artifacts, nil
}

// ExecuteRun asks the backend to start processing. The response body is ignored.
func (c *Client) ExecuteRun(ctx context.Context, id int64) error {
	return c.do(ctx, "execute_run", http.MethodPost, runPath(id)+"/execute", nil, nil)
}

// ListRuns returns up to limit runs, newest first as ordered by the backend.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]runs.Run, error) {
	path := "/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []runs.Run
	if err := c.do(ctx, "list_runs", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateRun validates req and creates a run.
func (c *Client) CreateRun(ctx context.Context, req runs.CreateRequest) (runs.Run, error) {
	req.Topic = strings.TrimSpace(req.Topic)
	if err := c.validate.Struct(req); err != nil {
		return runs.Run{}, fmt.Errorf("invalid run request: %w", err)
	}
	var run runs.Run
	if err := c.do(ctx, "create_run", http.MethodPost, "/runs", req, &run); err != nil {
		return runs.Run{}, err
	}
	return run, nil
}

// Health checks the backend liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "health", http.MethodGet, "/health", nil, nil)
}

func runPath(id int64) string {
	return "/runs/" + strconv.FormatInt(id, 10)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "backend."+op)
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.route", path))
	defer func() {
		metrics.ObserveBackend(op, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var reader io.Reader
	if body != nil {
		payload, mErr := json.Marshal(body)
		if mErr != nil {
			return fmt.Errorf("marshal %s request: %w", op, mErr)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		c.logger.Debug("backend request failed",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", apiErr.Detail),
		)
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

// decodeError maps a non-2xx response onto *runs.APIError. 404 and 5xx get
// fixed messages; anything else surfaces the server-provided detail.
func decodeError(resp *http.Response) *runs.APIError {
	apiErr := &runs.APIError{StatusCode: resp.StatusCode}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		apiErr.Detail = "Resource not found"
		return apiErr
	case resp.StatusCode >= http.StatusInternalServerError:
		apiErr.Detail = "Server error. Please try again later."
		return apiErr
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(data, &payload) != nil || len(payload.Detail) == 0 {
		return apiErr
	}
	var detail string
	if json.Unmarshal(payload.Detail, &detail) == nil {
		apiErr.Detail = detail
		return apiErr
	}
	apiErr.Detail = string(payload.Detail)
	return apiErr
}
