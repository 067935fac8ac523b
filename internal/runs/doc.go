// Package runs defines the run and artifact model shared by the tracker,
// the backend client, and every presentation layer.
package runs
