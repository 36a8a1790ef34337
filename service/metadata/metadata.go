// Package metadata persists the application metadata record shared by the
// background schedulers.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Key is the name under which the record is stored.
const Key = "APPMETADATA"

const lastVersionCheckedAtKey = "lastVersionCheckedAt"

// AppMetaData is the persisted record. Keys this package does not know are
// kept in Extra and written back unchanged.
type AppMetaData struct {
	LastVersionCheckedAt *time.Time
	Extra                map[string]json.RawMessage
}

// MarshalJSON writes lastVersionCheckedAt as an RFC 3339 timestamp.
func (m AppMetaData) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Extra)+1)
	for k, v := range m.Extra {
		out[k] = v
	}
	delete(out, lastVersionCheckedAtKey)
	if m.LastVersionCheckedAt != nil {
		ts, err := json.Marshal(m.LastVersionCheckedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
		out[lastVersionCheckedAtKey] = ts
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts lastVersionCheckedAt as an ISO-8601 string or as
// epoch milliseconds. An unparseable timestamp is treated as absent.
func (m *AppMetaData) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid %s record: %w", Key, err)
	}

	*m = AppMetaData{}
	if ts, ok := raw[lastVersionCheckedAtKey]; ok {
		if t, ok := parseTimestamp(ts); ok {
			m.LastVersionCheckedAt = &t
		}
		delete(raw, lastVersionCheckedAtKey)
	}
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// ExtraKeys returns the sorted names of preserved unknown keys.
func (m AppMetaData) ExtraKeys() []string {
	keys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z07:00", "2006-01-02T15:04:05Z"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil && !math.IsNaN(ms) && !math.IsInf(ms, 0) {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}

// Store loads and saves the record. Load returns the zero value when nothing
// has been stored yet.
type Store interface {
	Load(ctx context.Context) (AppMetaData, error)
	Save(ctx context.Context, m AppMetaData) error
	Close() error
}

// Update performs a read-modify-write of the record. The sequence is not
// atomic across processes.
func Update(ctx context.Context, s Store, fn func(*AppMetaData)) (AppMetaData, error) {
	m, err := s.Load(ctx)
	if err != nil {
		return AppMetaData{}, fmt.Errorf("failed to load %s: %w", Key, err)
	}
	fn(&m)
	if err := s.Save(ctx, m); err != nil {
		return AppMetaData{}, fmt.Errorf("failed to save %s: %w", Key, err)
	}
	return m, nil
}

func decode(data []byte) (AppMetaData, error) {
	var m AppMetaData
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return AppMetaData{}, err
	}
	return m, nil
}
