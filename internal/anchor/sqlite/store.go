// Package sqlite persists execution anchors in a local SQLite file so the
// simulated progression survives CLI restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS execution_anchors (
	run_id INTEGER PRIMARY KEY,
	started_at_ms INTEGER NOT NULL
)`

// Store implements anchor.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("anchor.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create anchor directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create anchor table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the anchor for runID.
func (s *Store) Get(ctx context.Context, runID int64) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at_ms FROM execution_anchors WHERE run_id = ?`, runID,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get anchor %d: %w", runID, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// Set upserts the anchor for runID. Unchanged values are not rewritten.
func (s *Store) Set(ctx context.Context, runID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_anchors (run_id, started_at_ms)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE
		SET started_at_ms = excluded.started_at_ms
		WHERE execution_anchors.started_at_ms <> excluded.started_at_ms`,
		runID, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set anchor %d: %w", runID, err)
	}
	return nil
}

// Clear deletes the anchor for runID.
func (s *Store) Clear(ctx context.Context, runID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM execution_anchors WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clear anchor %d: %w", runID, err)
	}
	return nil
}
