// Package progress turns coarse run observations into a five-step progress
// view. The model and classifier are pure functions over an explicit Snapshot;
// the Hub fans the resulting transitions out to pluggable sinks such as
// Prometheus metrics, structured logs, or Pub/Sub notifications.
package progress
