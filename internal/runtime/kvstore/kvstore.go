// Package kvstore is a small Postgres-backed key/value store handed to
// handler bodies. The pipeline itself never touches it.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	loggingpkg "github.com/drblury/botpipe/internal/runtime/logging"
)

var (
	ErrNotFound = errors.New("kvstore: key not found")
	ErrEmptyKey = errors.New("kvstore: key cannot be empty")
)

const ensureTableSQL = `
	CREATE TABLE IF NOT EXISTS botpipe_kv (
		key        TEXT PRIMARY KEY,
		value      BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// Store reads and writes opaque values by key.
type Store struct {
	pool   *pgxpool.Pool
	logger loggingpkg.ServiceLogger
}

// Open connects to url, pings the server and makes sure the table exists.
func Open(ctx context.Context, url string, logger loggingpkg.ServiceLogger) (*Store, error) {
	if url == "" {
		return nil, errors.New("kvstore: postgres url is required")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("kvstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kvstore: ping: %w", err)
	}
	store, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing pool. The caller keeps ownership of the pool only if
// it never calls Close.
func New(ctx context.Context, pool *pgxpool.Pool, logger loggingpkg.ServiceLogger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("kvstore: pool is required")
	}
	if logger == nil {
		logger = loggingpkg.NopLogger{}
	}
	if _, err := pool.Exec(ctx, ensureTableSQL); err != nil {
		return nil, fmt.Errorf("kvstore: ensure table: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	const sql = `SELECT value FROM botpipe_kv WHERE key = $1`

	var value []byte
	if err := s.pool.QueryRow(ctx, sql, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kvstore: get %q: %w", key, err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	if value == nil {
		value = []byte{}
	}
	const sql = `
		INSERT INTO botpipe_kv (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, sql, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("kvstore: put %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	const sql = `DELETE FROM botpipe_kv WHERE key = $1`

	if _, err := s.pool.Exec(ctx, sql, key); err != nil {
		return fmt.Errorf("kvstore: delete %q: %w", key, err)
	}
	return nil
}

// Close releases the pool. Safe to call on a nil store.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
	s.logger.Debug("Key/value store closed", nil)
}
