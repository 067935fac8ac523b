// Package memory keeps execution anchors in process memory.
package memory

import (
	"context"
	"sync"
	"time"
)

// Store is a mutex-guarded map of run id to anchor.
type Store struct {
	mu      sync.RWMutex
	anchors map[int64]time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{anchors: make(map[int64]time.Time)}
}

// Get returns the anchor for runID.
func (s *Store) Get(_ context.Context, runID int64) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.anchors[runID]
	return at, ok, nil
}

// Set records the anchor for runID.
func (s *Store) Set(_ context.Context, runID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchors[runID] = at
	return nil
}

// Clear deletes the anchor for runID.
func (s *Store) Clear(_ context.Context, runID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.anchors, runID)
	return nil
}

// Len reports how many anchors are held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.anchors)
}
