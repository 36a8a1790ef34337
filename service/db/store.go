package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("not found")

// Schema creates the tables used by the Store. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS app_metadata (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides database operations for the service.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// MetadataEntry is a stored key and its JSON value.
type MetadataEntry struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// GetMetadata returns the JSON value stored under key.
func (s *Store) GetMetadata(ctx context.Context, key string) (*MetadataEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT key, value, updated_at FROM app_metadata WHERE key = $1`, key)

	var e MetadataEntry
	if err := row.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get metadata %q: %w", key, err)
	}
	return &e, nil
}

// PutMetadata inserts or replaces the JSON value stored under key.
func (s *Store) PutMetadata(ctx context.Context, key string, value []byte) (*MetadataEntry, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO app_metadata (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		RETURNING key, value, updated_at`, key, value)

	var e MetadataEntry
	if err := row.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to put metadata %q: %w", key, err)
	}
	return &e, nil
}

// DeleteMetadata removes key. Deleting a missing key is not an error.
func (s *Store) DeleteMetadata(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM app_metadata WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete metadata %q: %w", key, err)
	}
	return nil
}

// ListMetadata returns every stored entry ordered by key.
func (s *Store) ListMetadata(ctx context.Context) ([]*MetadataEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value, updated_at FROM app_metadata ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}
	defer rows.Close()

	var entries []*MetadataEntry
	for rows.Next() {
		var e MetadataEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}
	return entries, nil
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
