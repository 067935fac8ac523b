package anchor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/runwatch/internal/anchor/memory"
	"github.com/JakeFAU/runwatch/internal/runs"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type flakyStore struct {
	*memory.Store
	fail bool
	sets int
}

var errBroken = errors.New("disk full")

func (f *flakyStore) Get(ctx context.Context, id int64) (time.Time, bool, error) {
	if f.fail {
		return time.Time{}, false, errBroken
	}
	return f.Store.Get(ctx, id)
}

func (f *flakyStore) Set(ctx context.Context, id int64, at time.Time) error {
	f.sets++
	if f.fail {
		return errBroken
	}
	return f.Store.Set(ctx, id, at)
}

func (f *flakyStore) Clear(ctx context.Context, id int64) error {
	if f.fail {
		return errBroken
	}
	return f.Store.Clear(ctx, id)
}

func TestReconcileLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	_, ok, change := Reconcile(ctx, store, clock, 5, runs.StatusCreated)
	require.False(t, ok)
	require.Equal(t, Unchanged, change)

	seeded, ok, change := Reconcile(ctx, store, clock, 5, runs.StatusRunning)
	require.True(t, ok)
	require.Equal(t, Seeded, change)
	require.Equal(t, clock.Now(), seeded)

	clock.Advance(7 * time.Second)
	at, ok, change := Reconcile(ctx, store, clock, 5, runs.StatusRunning)
	require.True(t, ok)
	require.Equal(t, Unchanged, change)
	require.Equal(t, seeded, at, "existing anchor is kept while running")
	require.Equal(t, 7*time.Second, Elapsed(clock.Now(), at, ok))

	_, ok, change = Reconcile(ctx, store, clock, 5, runs.StatusCompleted)
	require.False(t, ok)
	require.Equal(t, Cleared, change)
	require.Zero(t, store.Len())

	_, _, change = Reconcile(ctx, store, clock, 5, runs.StatusCompleted)
	require.Equal(t, Unchanged, change, "clearing an absent anchor writes nothing")
}

func TestReconcileRestartAfterFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	clock := &fakeClock{now: time.Unix(100, 0)}

	first, _, _ := Reconcile(ctx, store, clock, 9, runs.StatusRunning)
	Reconcile(ctx, store, clock, 9, runs.StatusFailed)
	clock.Advance(time.Minute)
	second, ok, change := Reconcile(ctx, store, clock, 9, runs.StatusRunning)
	require.True(t, ok)
	require.Equal(t, Seeded, change)
	require.True(t, second.After(first), "a fresh execution gets a fresh anchor")
}

func TestSeedOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	clock := &fakeClock{now: time.Unix(100, 0)}
	require.NoError(t, store.Set(ctx, 3, time.Unix(1, 0)))

	at, err := Seed(ctx, store, clock, 3)
	require.NoError(t, err)
	got, ok, _ := store.Get(ctx, 3)
	require.True(t, ok)
	require.Equal(t, at, got)
	require.Equal(t, clock.Now(), got)
}

func TestElapsed(t *testing.T) {
	t.Parallel()

	now := time.Unix(100, 0)
	require.Zero(t, Elapsed(now, time.Time{}, false))
	require.Zero(t, Elapsed(now, now.Add(time.Second), true), "clock skew never yields negative elapsed")
	require.Equal(t, 3*time.Second, Elapsed(now, now.Add(-3*time.Second), true))
}

func TestResilientFallsBackToShadow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	core, logs := observer.New(zap.DebugLevel)
	primary := &flakyStore{Store: memory.New(), fail: true}
	r := NewResilient(primary, zap.New(core))
	at := time.Unix(500, 0)

	require.NoError(t, r.Set(ctx, 1, at))
	require.True(t, r.Degraded())

	got, ok, err := r.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, at, got)

	require.NoError(t, r.Clear(ctx, 1))
	_, ok, err = r.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, 1, logs.FilterMessage("anchor store unavailable, using in-memory anchors").Len(),
		"degradation is reported once")

	primary.fail = false
	require.NoError(t, r.Set(ctx, 2, at))
	require.False(t, r.Degraded())
	require.Equal(t, 1, logs.FilterMessage("anchor store recovered").Len())
}

func TestReconcileWithResilientKeepsAnchorStable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	primary := &flakyStore{Store: memory.New(), fail: true}
	r := NewResilient(primary, nil)
	clock := &fakeClock{now: time.Unix(1_000, 0)}

	first, ok, change := Reconcile(ctx, r, clock, 11, runs.StatusRunning)
	require.True(t, ok)
	require.Equal(t, Seeded, change)

	clock.Advance(5 * time.Second)
	again, ok, change := Reconcile(ctx, r, clock, 11, runs.StatusRunning)
	require.True(t, ok)
	require.Equal(t, Unchanged, change)
	require.Equal(t, first, again)
	require.Equal(t, 1, primary.sets, "only the transition into running writes")
}

func TestResilientWithoutPrimary(t *testing.T) {
	t.Parallel()

	r := NewResilient(nil, nil)
	require.NoError(t, r.Set(context.Background(), 1, time.Unix(1, 0)))
	_, ok, err := r.Get(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, r.Degraded())
}

func TestChangeString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "seeded", Seeded.String())
	require.Equal(t, "cleared", Cleared.String())
	require.Equal(t, "unchanged", Unchanged.String())
}
