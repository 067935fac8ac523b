package tracker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/runwatch/internal/runs"
)

// Manager owns one Session per run id and runs each session's Watch in the
// background. Finished sessions stay queryable until forgotten.
type Manager struct {
	cfg  Config
	deps Deps

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	sessions map[int64]*entry
	closed   bool
}

type entry struct {
	session *Session
	done    chan struct{}
	err     error
}

// ErrClosed is returned once the manager has shut down.
var ErrClosed = errors.New("tracker manager closed")

// NewManager validates cfg and deps and returns an empty manager.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	cfg = cfg.withDefaults()
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		deps:     deps.withDefaults(),
		baseCtx:  ctx,
		cancel:   cancel,
		sessions: make(map[int64]*entry),
	}, nil
}

// Ensure returns the session for runID, starting a watch when none is
// active. A session whose watch ended is restarted only if it ended with
// an error that was not a hard backend error.
func (m *Manager) Ensure(runID int64) (*Session, error) {
	if runID <= 0 {
		return nil, runs.ErrNoRun
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if e, ok := m.sessions[runID]; ok {
		if !e.finished() || e.err == nil || runs.IsHard(e.err) {
			return e.session, nil
		}
	}
	s, err := NewSession(runID, m.cfg, m.deps)
	if err != nil {
		return nil, err
	}
	e := &entry{session: s, done: make(chan struct{})}
	m.sessions[runID] = e
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(e.done)
		err := s.Watch(m.baseCtx, nil)
		if err != nil && !errors.Is(err, context.Canceled) {
			m.deps.Logger.Warn("watch ended with error", zap.Int64("run_id", runID), zap.Error(err))
		}
		m.mu.Lock()
		e.err = err
		m.mu.Unlock()
	}()
	return s, nil
}

// Get returns the session for runID without starting one.
func (m *Manager) Get(runID int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[runID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Execute seeds the anchor and triggers the run through its session.
func (m *Manager) Execute(ctx context.Context, runID int64) (*Session, error) {
	s, err := m.Ensure(runID)
	if err != nil {
		return nil, err
	}
	return s, s.Execute(ctx)
}

// Forget stops and removes the session for runID.
func (m *Manager) Forget(runID int64) bool {
	m.mu.Lock()
	e, ok := m.sessions[runID]
	delete(m.sessions, runID)
	m.mu.Unlock()
	if !ok {
		return false
	}
	e.session.Stop()
	return true
}

// Len reports how many sessions are held.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops every session and waits for their watches to exit or ctx to end.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *entry) finished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}
