package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/runwatch/internal/anchor/memory"
	"github.com/JakeFAU/runwatch/internal/progress"
	"github.com/JakeFAU/runwatch/internal/runs"
)

type fakeBackend struct {
	mu           sync.Mutex
	script       []runs.Status
	status       runs.Status
	errs         []error
	artifacts    []runs.Artifact
	artifactsFor func(runs.Status) []runs.Artifact
	artifactErr  error
	served       runs.Status
	executed     []int64
	executeErr   error
	runCalls     int
	artCalls     int
	payloadID    int64
	runDelay     time.Duration
	inFlight     int
	maxInFlight  int
}

func (b *fakeBackend) GetRun(_ context.Context, id int64) (runs.Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runCalls++
	b.inFlight++
	b.maxInFlight = max(b.maxInFlight, b.inFlight)
	defer func() { b.inFlight-- }()
	if b.runDelay > 0 {
		b.mu.Unlock()
		time.Sleep(b.runDelay)
		b.mu.Lock()
	}
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		if err != nil {
			return runs.Run{}, err
		}
	}
	status := b.status
	if len(b.script) > 0 {
		status = b.script[0]
		if len(b.script) > 1 {
			b.script = b.script[1:]
		}
	}
	b.served = status
	payloadID := id
	if b.payloadID != 0 {
		payloadID = b.payloadID
	}
	return runs.Run{ID: payloadID, Topic: "Protein folding", Status: status}, nil
}

func (b *fakeBackend) ListArtifacts(context.Context, int64) ([]runs.Artifact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.artCalls++
	if b.artifactErr != nil {
		return nil, b.artifactErr
	}
	if b.artifactsFor != nil {
		return b.artifactsFor(b.served), nil
	}
	return append([]runs.Artifact(nil), b.artifacts...), nil
}

func (b *fakeBackend) ExecuteRun(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.executeErr != nil {
		return b.executeErr
	}
	b.executed = append(b.executed, id)
	return nil
}

func (b *fakeBackend) calls() (runCalls, maxInFlight int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runCalls, b.maxInFlight
}

func (b *fakeBackend) set(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 13, 10, 0, 0, 0, time.UTC)}
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

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) byStage(stage progress.Stage) []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Event
	for _, e := range r.events {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Cadence.Running = 2 * time.Millisecond
	cfg.Cadence.Idle = 2 * time.Millisecond
	cfg.ArtifactInterval = time.Millisecond
	cfg.Tick = 5 * time.Millisecond
	cfg.FetchTimeout = time.Second
	return cfg
}

func kindsArtifacts(kinds ...string) []runs.Artifact {
	out := make([]runs.Artifact, 0, len(kinds))
	for i, k := range kinds {
		out = append(out, runs.Artifact{ID: runs.ArtifactID(string(rune('a' + i))), Kind: k, Content: k + " body"})
	}
	return out
}

// gatedAnchors holds the first Get until release is closed.
type gatedAnchors struct {
	*memory.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedAnchors() *gatedAnchors {
	return &gatedAnchors{Store: memory.New(), entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedAnchors) Get(ctx context.Context, runID int64) (time.Time, bool, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.Store.Get(ctx, runID)
}
