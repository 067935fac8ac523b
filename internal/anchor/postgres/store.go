// Package postgres stores execution anchors in a shared Postgres table so
// several clients watching the same run agree on elapsed time.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements anchor.Store over a pgx pool.
type Store struct {
	pool  pool
	table string
}

// New connects to Postgres and ensures the anchor table exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("anchor.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = "execution_anchors"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// EnsureSchema creates the anchor table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		run_id BIGINT PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL
	)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create anchor table: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Get returns the anchor for runID.
func (s *Store) Get(ctx context.Context, runID int64) (time.Time, bool, error) {
	var at time.Time
	query := fmt.Sprintf(`SELECT started_at FROM %s WHERE run_id = $1`, s.table)
	err := s.pool.QueryRow(ctx, query, runID).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get anchor %d: %w", runID, err)
	}
	return at.UTC(), true, nil
}

// Set upserts the anchor for runID. Unchanged values are not rewritten.
func (s *Store) Set(ctx context.Context, runID int64, at time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (run_id, started_at)
		VALUES ($1, $2)
		ON CONFLICT (run_id) DO UPDATE
		SET started_at = EXCLUDED.started_at
		WHERE %[1]s.started_at <> EXCLUDED.started_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, runID, at.UTC()); err != nil {
		return fmt.Errorf("set anchor %d: %w", runID, err)
	}
	return nil
}

// Clear deletes the anchor for runID.
func (s *Store) Clear(ctx context.Context, runID int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, runID); err != nil {
		return fmt.Errorf("clear anchor %d: %w", runID, err)
	}
	return nil
}
