// Package anchor remembers when the client first observed a run executing.
//
// The anchor is client-local and best effort: it only drives the simulated
// step progression and is never reported back to the backend. Stores are
// keyed by run id so concurrent runs never share an anchor.
package anchor

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/runwatch/internal/anchor/memory"
)

// Store persists one execution anchor per run id. Implementations must be
// safe for concurrent use, and Clear of an absent key is a no-op.
type Store interface {
	Get(ctx context.Context, runID int64) (time.Time, bool, error)
	Set(ctx context.Context, runID int64, at time.Time) error
	Clear(ctx context.Context, runID int64) error
}

var _ Store = (*memory.Store)(nil)

// Resilient wraps a primary store and never surfaces its errors. Every value
// is mirrored into an in-memory shadow which serves reads whenever the
// primary fails, so a broken disk or database only costs elapsed time after
// a restart.
type Resilient struct {
	primary  Store
	shadow   *memory.Store
	logger   *zap.Logger
	degraded atomic.Bool
}

// NewResilient wraps primary. A nil primary yields a purely in-memory store.
func NewResilient(primary Store, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resilient{primary: primary, shadow: memory.New(), logger: logger}
}

// Degraded reports whether the last primary operation failed.
func (r *Resilient) Degraded() bool {
	return r.degraded.Load()
}

// Get reads the primary and falls back to the shadow on error.
func (r *Resilient) Get(ctx context.Context, runID int64) (time.Time, bool, error) {
	if r.primary != nil {
		at, ok, err := r.primary.Get(ctx, runID)
		if err == nil {
			r.recovered()
			return at, ok, nil
		}
		r.fail("get", runID, err)
	}
	return r.shadow.Get(ctx, runID)
}

// Set records the anchor in the shadow and the primary.
func (r *Resilient) Set(ctx context.Context, runID int64, at time.Time) error {
	_ = r.shadow.Set(ctx, runID, at)
	if r.primary != nil {
		if err := r.primary.Set(ctx, runID, at); err != nil {
			r.fail("set", runID, err)
			return nil
		}
		r.recovered()
	}
	return nil
}

// Clear removes the anchor from the shadow and the primary.
func (r *Resilient) Clear(ctx context.Context, runID int64) error {
	_ = r.shadow.Clear(ctx, runID)
	if r.primary != nil {
		if err := r.primary.Clear(ctx, runID); err != nil {
			r.fail("clear", runID, err)
			return nil
		}
		r.recovered()
	}
	return nil
}

func (r *Resilient) fail(op string, runID int64, err error) {
	if r.degraded.CompareAndSwap(false, true) {
		r.logger.Warn("anchor store unavailable, using in-memory anchors",
			zap.String("op", op),
			zap.Int64("run_id", runID),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("anchor store still unavailable", zap.String("op", op), zap.Int64("run_id", runID), zap.Error(err))
}

func (r *Resilient) recovered() {
	if r.degraded.CompareAndSwap(true, false) {
		r.logger.Info("anchor store recovered")
	}
}
