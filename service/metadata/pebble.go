package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/brojonat/walletsync/service/metrics"
)

const pebbleKeyPrefix = "meta:"

// PebbleStore keeps the record in an embedded Pebble database.
type PebbleStore struct {
	db      *pebble.DB
	metrics *metrics.Metrics
}

// OpenPebbleStore opens or creates the database directory at path.
func OpenPebbleStore(path string, m *metrics.Metrics) (*PebbleStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	opts := &pebble.Options{
		Cache:        pebble.NewCache(8 << 20),
		MaxOpenFiles: 64,
	}
	defer opts.Cache.Unref()

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &PebbleStore{db: db, metrics: m}, nil
}

func (s *PebbleStore) key() []byte {
	return []byte(pebbleKeyPrefix + Key)
}

func (s *PebbleStore) Load(ctx context.Context) (AppMetaData, error) {
	start := time.Now()
	m, err := s.load()
	s.metrics.RecordMetadataOp("load", "pebble", time.Since(start).Seconds(), err)
	return m, err
}

func (s *PebbleStore) load() (AppMetaData, error) {
	value, closer, err := s.db.Get(s.key())
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return AppMetaData{}, nil
		}
		return AppMetaData{}, fmt.Errorf("failed to read %s: %w", Key, err)
	}
	defer closer.Close()

	// value is only valid until closer.Close()
	data := make([]byte, len(value))
	copy(data, value)
	return decode(data)
}

func (s *PebbleStore) Save(ctx context.Context, m AppMetaData) error {
	start := time.Now()
	err := s.save(m)
	s.metrics.RecordMetadataOp("save", "pebble", time.Since(start).Seconds(), err)
	return err
}

func (s *PebbleStore) save(m AppMetaData) error {
	data, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", Key, err)
	}
	if err := s.db.Set(s.key(), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write %s: %w", Key, err)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
