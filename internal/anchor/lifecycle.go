package anchor

import (
	"context"
	"time"

	"github.com/JakeFAU/runwatch/internal/runs"
)

// Change reports which write, if any, Reconcile performed.
type Change int

// Reconcile outcomes.
const (
	Unchanged Change = iota
	Seeded
	Cleared
)

func (c Change) String() string {
	switch c {
	case Seeded:
		return "seeded"
	case Cleared:
		return "cleared"
	default:
		return "unchanged"
	}
}

// Reconcile applies the anchor lifecycle for one observed status and
// returns the anchor in effect. While the run is running the existing anchor
// is kept, or one is created at clock.Now() when absent. Any other status
// deletes the anchor. Writes only happen on those two transitions.
//
// Store errors are absorbed: a failed read is treated as a missing anchor
// and the freshly seeded time is still returned for this evaluation. Wrap
// durable stores in Resilient to keep the anchor stable across such errors.
func Reconcile(
	ctx context.Context,
	store Store,
	clock runs.Clock,
	runID int64,
	status runs.Status,
) (time.Time, bool, Change) {
	at, ok, err := store.Get(ctx, runID)
	if err != nil {
		ok = false
	}
	if status != runs.StatusRunning {
		if !ok {
			if err != nil {
				_ = store.Clear(ctx, runID)
			}
			return time.Time{}, false, Unchanged
		}
		_ = store.Clear(ctx, runID)
		return time.Time{}, false, Cleared
	}
	if ok {
		return at, true, Unchanged
	}
	now := clock.Now()
	_ = store.Set(ctx, runID, now)
	return now, true, Seeded
}

// Seed overwrites the anchor with clock.Now(). It is called when an execute
// request is submitted, before the backend confirms the run is running, so a
// re-executed run starts its simulated progression from zero.
func Seed(ctx context.Context, store Store, clock runs.Clock, runID int64) (time.Time, error) {
	now := clock.Now()
	if err := store.Set(ctx, runID, now); err != nil {
		return now, err
	}
	return now, nil
}

// Elapsed returns the time since the anchor, or zero when there is none.
func Elapsed(now, at time.Time, ok bool) time.Duration {
	if !ok || at.IsZero() {
		return 0
	}
	d := now.Sub(at)
	if d < 0 {
		return 0
	}
	return d
}
