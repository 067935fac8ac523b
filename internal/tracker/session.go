package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/runwatch/internal/anchor"
	"github.com/JakeFAU/runwatch/internal/metrics"
	"github.com/JakeFAU/runwatch/internal/poll"
	"github.com/JakeFAU/runwatch/internal/progress"
	"github.com/JakeFAU/runwatch/internal/runs"
)

// Session tracks one run id. All mutable state sits behind mu; network and
// anchor I/O happen outside the lock. runFetchMu and artFetchMu keep fetches
// of the same resource from overlapping, and anchorMu orders the execute
// seed against anchor reconciliation. Lock order: anchorMu before mu.
type Session struct {
	runID  int64
	cfg    Config
	deps   Deps
	logger *zap.Logger

	changed chan struct{}
	refresh chan struct{}

	runFetchMu sync.Mutex
	artFetchMu sync.Mutex
	anchorMu   sync.Mutex

	mu             sync.Mutex
	generation     uuid.UUID
	cancel         context.CancelFunc
	run            runs.Run
	haveRun        bool
	artifacts      []runs.Artifact
	anchorAt       time.Time
	anchorOK       bool
	executePending bool
	lastStep       int
	err            error
	fetchErr       error
}

// NewSession builds a session for runID. A non-positive runID is accepted
// but Watch and Execute refuse to run for it.
func NewSession(runID int64, cfg Config, deps Deps) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	deps = deps.withDefaults()
	return &Session{
		runID:   runID,
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger.With(zap.Int64("run_id", runID)),
		changed: make(chan struct{}, 1),
		refresh: make(chan struct{}, 1),
	}, nil
}

// RunID returns the tracked run id.
func (s *Session) RunID() int64 {
	return s.runID
}

// Run returns the latest observed run record.
func (s *Session) Run() (runs.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run, s.haveRun
}

// Artifacts returns a copy of the latest artifact list.
func (s *Session) Artifacts() []runs.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]runs.Artifact(nil), s.artifacts...)
}

// Err returns the error that ended tracking, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LastFetchError returns the most recent transient fetch error. It is reset
// by the next successful run fetch.
func (s *Session) LastFetchError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchErr
}

// View evaluates the current snapshot. It is cheap and side-effect free.
func (s *Session) View() progress.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Pipeline.Evaluate(s.snapshotLocked())
}

func (s *Session) snapshotLocked() progress.Snapshot {
	return progress.Snapshot{
		RunID:   s.runID,
		Status:  s.run.Status,
		Elapsed: anchor.Elapsed(s.deps.Clock.Now(), s.anchorAt, s.anchorOK),
		Kinds:   runs.Kinds(s.artifacts),
	}
}

// observe evaluates the view and reports a step advance when the derived
// step moved forward since the last observation.
func (s *Session) observe() progress.View {
	s.mu.Lock()
	snap := s.snapshotLocked()
	v := s.cfg.Pipeline.Evaluate(snap)
	advanced := s.haveRun && v.CurrentStep > s.lastStep
	if advanced {
		s.lastStep = v.CurrentStep
	}
	s.mu.Unlock()

	if advanced {
		s.emit(progress.Event{
			Stage:   progress.StageStepAdvanced,
			Status:  snap.Status,
			Step:    v.CurrentStep,
			Elapsed: snap.Elapsed,
		})
	}
	return v
}

// Stop cancels the active watch and invalidates its in-flight fetches.
func (s *Session) Stop() {
	s.mu.Lock()
	s.generation = s.deps.Tokens.Token()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Watch polls the run and its artifacts until the run is terminal, a hard
// backend error occurs, or ctx ends. onUpdate, when set, receives a fresh
// view after every applied result and on every render tick.
//
// Watch returns nil once the run is terminal and a final artifact fetch has
// completed, the hard error that ended tracking, or the context error.
func (s *Session) Watch(ctx context.Context, onUpdate func(progress.View)) error {
	if s.runID <= 0 {
		return runs.ErrNoRun
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	gen := s.begin(cancel)
	defer s.end(gen)

	var refreshes sync.WaitGroup
	defer func() {
		cancel()
		refreshes.Wait()
	}()

	metrics.IncSessions()
	defer metrics.DecSessions()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		poll.Loop(ctx, func(ctx context.Context) (time.Duration, bool) {
			return s.fetchRun(ctx, gen)
		})
	}()

	artCtx, artCancel := context.WithCancel(ctx)
	defer artCancel()
	artDone := make(chan struct{})
	go func() {
		defer close(artDone)
		poll.Every(artCtx, s.cfg.ArtifactInterval, func(ctx context.Context) bool {
			s.fetchArtifacts(ctx, gen)
			return true
		})
	}()

	notify := func() {
		v := s.observe()
		if onUpdate != nil {
			onUpdate(v)
		}
	}

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			artCancel()
			<-artDone
			<-runDone
			return ctx.Err()
		case <-s.changed:
			notify()
		case <-ticker.C:
			notify()
		case <-s.refresh:
			refreshes.Add(1)
			go func() {
				defer refreshes.Done()
				s.refreshNow(ctx, gen)
			}()
		case <-runDone:
			artCancel()
			<-artDone
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.Err(); err != nil {
				notify()
				return err
			}
			s.fetchArtifacts(ctx, gen)
			notify()
			return nil
		}
	}
}

// Execute seeds the execution anchor and asks the backend to start the run.
// The anchor survives the "created" observations that may arrive before the
// backend reports the run as running.
func (s *Session) Execute(ctx context.Context) error {
	if s.runID <= 0 {
		return runs.ErrNoRun
	}
	s.anchorMu.Lock()
	at, err := anchor.Seed(ctx, s.deps.Anchors, s.deps.Clock, s.runID)
	if err != nil {
		s.logger.Warn("seed execution anchor", zap.Error(err))
	}
	s.mu.Lock()
	s.anchorAt, s.anchorOK = at, true
	s.executePending = true
	s.lastStep = 0
	status := s.run.Status
	s.mu.Unlock()
	s.anchorMu.Unlock()
	s.emit(progress.Event{Stage: progress.StageAnchorSet, Status: status, Note: "execute"})

	if err := s.deps.Backend.ExecuteRun(ctx, s.runID); err != nil {
		s.mu.Lock()
		s.executePending = false
		s.mu.Unlock()
		return fmt.Errorf("execute run %d: %w", s.runID, err)
	}
	s.logger.Info("run execution requested")
	select {
	case s.refresh <- struct{}{}:
	default:
	}
	return nil
}

func (s *Session) begin(cancel context.CancelFunc) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.generation = s.deps.Tokens.Token()
	s.cancel = cancel
	s.err = nil
	return s.generation
}

func (s *Session) end(gen uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == gen {
		s.cancel = nil
		s.generation = s.deps.Tokens.Token()
	}
}

func (s *Session) currentLocked(gen uuid.UUID) bool {
	return s.generation == gen
}

func (s *Session) current(gen uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(gen)
}

func (s *Session) refreshNow(ctx context.Context, gen uuid.UUID) {
	s.fetchRun(ctx, gen)
	s.fetchArtifacts(ctx, gen)
}

func (s *Session) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Session) emit(evt progress.Event) {
	evt.RunID = s.runID
	if evt.TS.IsZero() {
		evt.TS = s.deps.Clock.Now()
	}
	s.deps.Events.Emit(evt)
}

// fetchRun performs one run fetch and returns the delay before the next.
func (s *Session) fetchRun(ctx context.Context, gen uuid.UUID) (time.Duration, bool) {
	s.runFetchMu.Lock()
	defer s.runFetchMu.Unlock()
	if !s.current(gen) {
		return 0, false
	}
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	run, err := s.deps.Backend.GetRun(fctx, s.runID)
	cancel()
	if err != nil {
		return s.runFetchFailed(ctx, gen, err)
	}
	if run.ID != s.runID {
		s.logger.Warn("discarding run payload for another id", zap.Int64("payload_id", run.ID))
		return s.cadenceForLastStatus()
	}

	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		s.logger.Debug("discarding stale run result")
		return 0, false
	}
	prev := s.run.Status
	hadRun := s.haveRun
	if hadRun && run.Status.Rank() < prev.Rank() {
		s.logger.Debug("ignoring status regression",
			zap.String("observed", string(run.Status)),
			zap.String("kept", string(prev)),
		)
		run.Status = prev
	}
	s.run = run
	s.haveRun = true
	s.fetchErr = nil
	status := run.Status
	if status.Rank() > runs.StatusCreated.Rank() {
		s.executePending = false
	}
	prevAnchor, prevAnchorOK := s.anchorAt, s.anchorOK
	kinds := runs.Kinds(s.artifacts)
	s.mu.Unlock()

	if !hadRun || status != prev {
		s.emit(progress.Event{Stage: progress.StageStatusChanged, Status: status})
	}

	s.reconcileAnchor(ctx, gen, status)

	if status.Terminal() && (!hadRun || !prev.Terminal()) {
		elapsed := anchor.Elapsed(s.deps.Clock.Now(), prevAnchor, prevAnchorOK)
		s.emit(progress.Event{
			Stage:   progress.StageRunTerminal,
			Status:  status,
			Step:    s.cfg.Pipeline.CurrentStep(elapsed, kinds, status),
			Elapsed: elapsed,
		})
		s.logger.Info("run finished", zap.String("status", string(status)))
	}
	s.signal()
	return s.cfg.Cadence.Next(status)
}

// reconcileAnchor applies the anchor lifecycle for status. A "created"
// observation leaves the anchor alone while an execute request is pending.
func (s *Session) reconcileAnchor(ctx context.Context, gen uuid.UUID, status runs.Status) {
	s.anchorMu.Lock()
	defer s.anchorMu.Unlock()

	s.mu.Lock()
	skip := !s.currentLocked(gen) || (s.executePending && status.Rank() == runs.StatusCreated.Rank())
	s.mu.Unlock()
	if skip {
		return
	}

	at, ok, change := anchor.Reconcile(ctx, s.deps.Anchors, s.deps.Clock, s.runID, status)

	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		return
	}
	s.anchorAt, s.anchorOK = at, ok
	s.mu.Unlock()

	switch change {
	case anchor.Seeded:
		s.emit(progress.Event{Stage: progress.StageAnchorSet, Status: status})
	case anchor.Cleared:
		s.emit(progress.Event{Stage: progress.StageAnchorCleared, Status: status})
	}
}

func (s *Session) runFetchFailed(ctx context.Context, gen uuid.UUID, err error) (time.Duration, bool) {
	if ctx.Err() != nil {
		return 0, false
	}
	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		return 0, false
	}
	status := s.run.Status
	hard := runs.IsHard(err)
	if hard {
		s.err = fmt.Errorf("track run %d: %w", s.runID, err)
	} else {
		s.fetchErr = err
	}
	s.mu.Unlock()

	s.emit(progress.Event{
		Stage:    progress.StageFetchFailed,
		Status:   status,
		Resource: "run",
		Note:     err.Error(),
	})
	if hard {
		s.logger.Warn("run tracking stopped", zap.Error(err))
		s.signal()
		return 0, false
	}
	s.logger.Warn("run fetch failed, keeping previous state", zap.Error(err))
	return s.cfg.Cadence.Next(status)
}

func (s *Session) cadenceForLastStatus() (time.Duration, bool) {
	s.mu.Lock()
	status := s.run.Status
	s.mu.Unlock()
	return s.cfg.Cadence.Next(status)
}

// fetchArtifacts performs one artifact fetch. The artifact list only grows
// while the run is not terminal.
func (s *Session) fetchArtifacts(ctx context.Context, gen uuid.UUID) {
	s.artFetchMu.Lock()
	defer s.artFetchMu.Unlock()
	if !s.current(gen) {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	artifacts, err := s.deps.Backend.ListArtifacts(fctx, s.runID)
	cancel()
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		s.mu.Lock()
		status := s.run.Status
		s.mu.Unlock()
		s.emit(progress.Event{
			Stage:    progress.StageFetchFailed,
			Status:   status,
			Resource: "artifacts",
			Note:     err.Error(),
		})
		s.logger.Warn("artifact fetch failed, keeping previous list", zap.Error(err))
		return
	}

	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		return
	}
	if len(artifacts) < len(s.artifacts) && !s.run.Status.Terminal() {
		s.mu.Unlock()
		s.logger.Debug("ignoring shorter artifact list",
			zap.Int("observed", len(artifacts)),
			zap.Int("kept", len(s.artifacts)),
		)
		return
	}
	s.artifacts = artifacts
	s.mu.Unlock()
	s.signal()
}
