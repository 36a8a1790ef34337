package metadata

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brojonat/walletsync/service/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppMetaDataJSON(t *testing.T) {
	t.Run("iso timestamp and unknown keys", func(t *testing.T) {
		var m AppMetaData
		require.NoError(t, json.Unmarshal([]byte(`{"lastVersionCheckedAt":"2024-03-01T10:00:00.000Z","theme":"dark"}`), &m))
		require.NotNil(t, m.LastVersionCheckedAt)
		assert.True(t, m.LastVersionCheckedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
		assert.Equal(t, []string{"theme"}, m.ExtraKeys())

		data, err := json.Marshal(m)
		require.NoError(t, err)
		assert.JSONEq(t, `{"lastVersionCheckedAt":"2024-03-01T10:00:00Z","theme":"dark"}`, string(data))
	})

	t.Run("epoch milliseconds", func(t *testing.T) {
		var m AppMetaData
		require.NoError(t, json.Unmarshal([]byte(`{"lastVersionCheckedAt":1709287200000}`), &m))
		require.NotNil(t, m.LastVersionCheckedAt)
		assert.Equal(t, int64(1709287200000), m.LastVersionCheckedAt.UnixMilli())
	})

	t.Run("garbage timestamp is absent", func(t *testing.T) {
		var m AppMetaData
		require.NoError(t, json.Unmarshal([]byte(`{"lastVersionCheckedAt":"yesterday"}`), &m))
		assert.Nil(t, m.LastVersionCheckedAt)
		assert.Empty(t, m.Extra)
	})

	t.Run("not an object", func(t *testing.T) {
		var m AppMetaData
		assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &m))
	})
}

func testStoreRoundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	m, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, m.LastVersionCheckedAt)

	m.Extra = map[string]json.RawMessage{"theme": json.RawMessage(`"dark"`)}
	require.NoError(t, s.Save(ctx, m))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	updated, err := Update(ctx, s, func(m *AppMetaData) { m.LastVersionCheckedAt = &now })
	require.NoError(t, err)
	assert.Equal(t, []string{"theme"}, updated.ExtraKeys())

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got.LastVersionCheckedAt)
	assert.True(t, got.LastVersionCheckedAt.Equal(now))
	assert.JSONEq(t, `"dark"`, string(got.Extra["theme"]))
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "storage.json")
	s := NewFileStore(path, nil)
	defer s.Close()

	testStoreRoundTrip(t, s)

	// keys outside the record are preserved
	require.NoError(t, os.WriteFile(path, []byte(`{"OTHER":{"a":1},"APPMETADATA":{}}`), 0o644))
	require.NoError(t, s.Save(context.Background(), AppMetaData{}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"OTHER":{"a":1},"APPMETADATA":{}}`, string(data))
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))

	_, err := NewFileStore(path, nil).Load(context.Background())
	assert.Error(t, err)
}

func TestPebbleStore(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenPebbleStore(dir, nil)
	require.NoError(t, err)

	testStoreRoundTrip(t, s)
	require.NoError(t, s.Close())

	// reopen and read back
	s, err = OpenPebbleStore(dir, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got.LastVersionCheckedAt)
}

func TestPostgresStore(t *testing.T) {
	db.SkipIfNoTestDB(t)

	ts := db.NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)
	defer ts.Cleanup(t)

	testStoreRoundTrip(t, NewPostgresStore(ts.Store, nil))
}

func TestOpen(t *testing.T) {
	_, err := Open(context.Background(), "redis", "", "", nil)
	assert.Error(t, err)

	s, err := Open(context.Background(), "file", filepath.Join(t.TempDir(), "m.json"), "", nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
}
