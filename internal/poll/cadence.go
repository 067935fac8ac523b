// Package poll decides how often run state is refreshed and drives the
// refresh loops. The cadence is re-derived after every fetch so a status
// change takes effect on the next cycle.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/runwatch/internal/runs"
)

// Default polling intervals.
const (
	DefaultRunning   = 5 * time.Second
	DefaultIdle      = 10 * time.Second
	DefaultArtifacts = 10 * time.Second
)

// Cadence maps a run status onto the delay before the next run fetch.
type Cadence struct {
	Running time.Duration
	Idle    time.Duration
}

// DefaultCadence returns the 5s running / 10s idle cadence.
func DefaultCadence() Cadence {
	return Cadence{Running: DefaultRunning, Idle: DefaultIdle}
}

// Validate ensures both intervals are usable by a timer.
func (c Cadence) Validate() error {
	if c.Running <= 0 {
		return errors.New("running interval must be positive")
	}
	if c.Idle <= 0 {
		return errors.New("idle interval must be positive")
	}
	return nil
}

// Next returns the delay before the next fetch and whether polling should
// continue at all. Terminal statuses stop polling; unknown statuses poll
// at the idle rate.
func (c Cadence) Next(status runs.Status) (time.Duration, bool) {
	switch status {
	case runs.StatusCompleted, runs.StatusFailed:
		return 0, false
	case runs.StatusRunning:
		return c.Running, true
	default:
		return c.Idle, true
	}
}

// FetchFunc performs one fetch and reports the delay before the next one.
type FetchFunc func(ctx context.Context) (next time.Duration, ok bool)

// Loop calls fetch immediately and then re-arms a single-shot timer with the
// delay returned by the latest call. It returns when fetch reports !ok or
// ctx is done. Fetches never overlap.
func Loop(ctx context.Context, fetch FetchFunc) {
	if ctx.Err() != nil {
		return
	}
	next, ok := fetch(ctx)
	if !ok {
		return
	}
	timer := time.NewTimer(next)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		next, ok = fetch(ctx)
		if !ok || ctx.Err() != nil {
			return
		}
		timer.Reset(next)
	}
}

// Every calls fn immediately and then at a fixed interval until fn returns
// false or ctx is done.
func Every(ctx context.Context, interval time.Duration, fn func(ctx context.Context) bool) {
	Loop(ctx, func(ctx context.Context) (time.Duration, bool) {
		return interval, fn(ctx)
	})
}
