package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/brojonat/walletsync/service/metrics"
)

// FileStore keeps the record in a JSON document shaped like browser local
// storage: an object mapping keys to values. Other keys in the document are
// left untouched.
type FileStore struct {
	path    string
	metrics *metrics.Metrics
	mu      sync.Mutex
}

// NewFileStore creates a store backed by path. The file is created on the
// first Save.
func NewFileStore(path string, m *metrics.Metrics) *FileStore {
	return &FileStore{path: path, metrics: m}
}

func (s *FileStore) Load(ctx context.Context) (AppMetaData, error) {
	start := time.Now()
	m, err := s.load()
	s.metrics.RecordMetadataOp("load", "file", time.Since(start).Seconds(), err)
	return m, err
}

func (s *FileStore) load() (AppMetaData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDocument()
	if err != nil {
		return AppMetaData{}, err
	}
	m, err := decode(doc[Key])
	if err != nil {
		return AppMetaData{}, fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	return m, nil
}

func (s *FileStore) Save(ctx context.Context, m AppMetaData) error {
	start := time.Now()
	err := s.save(m)
	s.metrics.RecordMetadataOp("save", "file", time.Since(start).Seconds(), err)
	return err
}

func (s *FileStore) save(m AppMetaData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDocument()
	if err != nil {
		return err
	}
	value, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", Key, err)
	}
	doc[Key] = value

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".metadata-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) readDocument() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	doc := map[string]json.RawMessage{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *FileStore) Close() error { return nil }
