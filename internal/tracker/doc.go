// Package tracker follows the progress of backend runs.
//
// A Session owns the state observed for one run id: the latest run record,
// the artifact list, the execution anchor and any terminal error. Watch
// drives the poll loops for the session and re-evaluates the derived
// progress view on every result and on a render tick. Results from a
// superseded watch are discarded using a per-watch generation token.
//
// Manager keeps one Session per run id for long-lived processes such as the
// HTTP API, so concurrently watched runs never share state.
package tracker
