package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/walletsync/service/db"
	"github.com/brojonat/walletsync/service/metrics"
)

// PostgresStore keeps the record in the app_metadata table.
type PostgresStore struct {
	store   *db.Store
	metrics *metrics.Metrics
}

// NewPostgresStore wraps an existing db.Store.
func NewPostgresStore(store *db.Store, m *metrics.Metrics) *PostgresStore {
	return &PostgresStore{store: store, metrics: m}
}

// OpenPostgresStore connects to databaseURL and applies the schema.
func OpenPostgresStore(ctx context.Context, databaseURL string, m *metrics.Metrics) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	store := db.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return NewPostgresStore(store, m), nil
}

func (s *PostgresStore) Load(ctx context.Context) (AppMetaData, error) {
	start := time.Now()
	m, err := s.load(ctx)
	s.metrics.RecordMetadataOp("load", "postgres", time.Since(start).Seconds(), err)
	return m, err
}

func (s *PostgresStore) load(ctx context.Context) (AppMetaData, error) {
	entry, err := s.store.GetMetadata(ctx, Key)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return AppMetaData{}, nil
		}
		return AppMetaData{}, err
	}
	return decode(entry.Value)
}

func (s *PostgresStore) Save(ctx context.Context, m AppMetaData) error {
	start := time.Now()
	err := s.save(ctx, m)
	s.metrics.RecordMetadataOp("save", "postgres", time.Since(start).Seconds(), err)
	return err
}

func (s *PostgresStore) save(ctx context.Context, m AppMetaData) error {
	data, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", Key, err)
	}
	_, err = s.store.PutMetadata(ctx, Key, data)
	return err
}

func (s *PostgresStore) Close() error {
	s.store.Close()
	return nil
}

// Open returns the store selected by backend: "pebble" (path is a
// directory), "file" (path is a JSON file) or "postgres".
func Open(ctx context.Context, backend, path, databaseURL string, m *metrics.Metrics) (Store, error) {
	switch backend {
	case "", "pebble":
		return OpenPebbleStore(path, m)
	case "file":
		return NewFileStore(path, m), nil
	case "postgres":
		return OpenPostgresStore(ctx, databaseURL, m)
	default:
		return nil, fmt.Errorf("unknown metadata backend %q", backend)
	}
}
