// Package api hosts the HTTP server, middleware, and REST handlers that expose
// run progress as JSON. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs/{run_id}/progress and /artifacts for the derived view.
//   - POST /v1/runs/{run_id}/execute and /exports, DELETE /v1/runs/{run_id}/watch.
package api
