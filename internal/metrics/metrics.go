// Package metrics exposes Prometheus collectors for backend polling and the
// HTTP surface.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/runwatch/internal/runs"
)

var (
	backendRequestsTotal          *prometheus.CounterVec
	backendRequestDurationSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	sessionsActive                prometheus.Gauge
	exportsTotal                  *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		backendRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runwatch_backend_requests_total",
				Help: "Backend API calls, labeled by operation and outcome.",
			},
			[]string{"op", "outcome"},
		)

		backendRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runwatch_backend_request_duration_seconds",
				Help:    "Histogram of backend API latencies, labeled by operation.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"op"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		sessionsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "runwatch_sessions_active",
				Help: "Number of runs currently being watched.",
			},
		)

		exportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runwatch_exports_total",
				Help: "Artifact exports written, labeled by category and format.",
			},
			[]string{"category", "format"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Outcome classifies a backend call result into a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, runs.ErrNotFound):
		return "not_found"
	case errors.Is(err, runs.ErrServer):
		return "server_error"
	case runs.IsHard(err):
		return "client_error"
	case errors.As(err, new(*runs.APIError)):
		return "retryable_error"
	default:
		return "transport_error"
	}
}

// ObserveBackend records one backend call.
func ObserveBackend(op string, err error, duration time.Duration) {
	Init()
	backendRequestsTotal.WithLabelValues(op, Outcome(err)).Inc()
	backendRequestDurationSeconds.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncSessions increments the active sessions gauge.
func IncSessions() {
	Init()
	sessionsActive.Inc()
}

// DecSessions decrements the active sessions gauge.
func DecSessions() {
	Init()
	sessionsActive.Dec()
}

// ObserveExport counts one written export.
func ObserveExport(category, format string) {
	Init()
	exportsTotal.WithLabelValues(category, format).Inc()
}
