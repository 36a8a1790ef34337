package version

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/walletsync/client"
	"github.com/brojonat/walletsync/service/metadata"
	"github.com/brojonat/walletsync/service/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) LatestRelease(ctx context.Context) (client.Release, error) {
	args := m.Called(ctx)
	return args.Get(0).(client.Release), args.Error(1)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []session.Notice
}

func (r *recordingNotifier) Notify(n session.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingNotifier) all() []session.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Notice(nil), r.notices...)
}

func newStore(t *testing.T) metadata.Store {
	t.Helper()
	return metadata.NewFileStore(filepath.Join(t.TempDir(), "storage.json"), nil)
}

func TestNextCheck(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		t := now.Add(-d)
		return &t
	}

	tests := []struct {
		name      string
		last      *time.Time
		wantDelay time.Duration
		wantDue   bool
	}{
		{"never checked", nil, 0, true},
		{"exactly one interval ago", ago(time.Hour), 0, true},
		{"long ago", ago(48 * time.Hour), 0, true},
		{"twenty minutes ago", ago(20 * time.Minute), 40 * time.Minute, false},
		{"just now", ago(0), time.Hour, false},
		{"in the future", ago(-time.Hour), time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, due := NextCheck(tt.last, now, time.Hour)
			assert.Equal(t, tt.wantDue, due)
			assert.Equal(t, tt.wantDelay, delay)
		})
	}
}

func TestIsNewer(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
		wantErr         bool
	}{
		{"v1.2.0", "1.1.9", true, false},
		{"1.10.0", "1.9.0", true, false},
		{"v1.1.0", "1.1.0", false, false},
		{"1.0.9", "1.1.0", false, false},
		{"2.0.0", "v1.99.99", true, false},
		{"01.0.0", "1.0.0", false, true},
		{"1.0", "1.0.0", false, true},
		{"1.0.0-rc.1", "1.0.0", false, true},
		{"vv1.0.0", "1.0.0", false, true},
		{"1.0.0", "dev", false, true},
	}
	for _, tt := range tests {
		got, err := IsNewer(tt.latest, tt.current)
		if tt.wantErr {
			assert.Error(t, err, "%s vs %s", tt.latest, tt.current)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s vs %s", tt.latest, tt.current)
	}
}

func TestTickChecksWhenNeverChecked(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &mockFetcher{}
	fetcher.On("LatestRelease", mock.Anything).Return(client.Release{TagName: "v1.3.0"}, nil).Once()

	store := newStore(t)
	var announced []string
	c := NewChecker(fetcher, store, "1.2.0",
		WithClock(func() time.Time { return now }),
		WithNewVersionHandler(func(v string) { announced = append(announced, v) }),
	)

	delay, err := c.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Hour, delay)
	assert.Equal(t, []string{"1.3.0"}, announced)

	latest, ok := c.Latest()
	assert.True(t, ok)
	assert.Equal(t, "1.3.0", latest)

	m, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m.LastVersionCheckedAt)
	assert.True(t, m.LastVersionCheckedAt.Equal(now))
	fetcher.AssertExpectations(t)
}

func TestTickWaitsRemainingTime(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newStore(t)
	last := now.Add(-20 * time.Minute)
	require.NoError(t, store.Save(context.Background(), metadata.AppMetaData{LastVersionCheckedAt: &last}))

	fetcher := &mockFetcher{}
	c := NewChecker(fetcher, store, "1.2.0", WithClock(func() time.Time { return now }))

	delay, err := c.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40*time.Minute, delay)
	fetcher.AssertNotCalled(t, "LatestRelease", mock.Anything)
}

func TestTickPersistsAttemptOnFailure(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &mockFetcher{}
	fetcher.On("LatestRelease", mock.Anything).
		Return(client.Release{}, &client.NetworkError{Op: "get", Err: errors.New("offline")})

	store := newStore(t)
	notifier := &recordingNotifier{}
	current := now
	c := NewChecker(fetcher, store, "1.2.0",
		WithClock(func() time.Time { return current }),
		WithNotifier(notifier),
	)

	delay, err := c.Tick(context.Background())
	require.Error(t, err)
	var netErr *client.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.Equal(t, time.Hour, delay)

	notices := notifier.all()
	require.Len(t, notices, 1)
	assert.Equal(t, FailureMessage, notices[0].Text)
	assert.Equal(t, session.NoticeAlert, notices[0].Type)

	m, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m.LastVersionCheckedAt)

	// a restart within the hour does not retry
	current = now.Add(10 * time.Minute)
	delay, err = c.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50*time.Minute, delay)
	fetcher.AssertNumberOfCalls(t, "LatestRelease", 1)
}

func TestTickCancelledIsNotRecorded(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("LatestRelease", mock.Anything).Return(client.Release{}, context.Canceled)

	store := newStore(t)
	notifier := &recordingNotifier{}
	c := NewChecker(fetcher, store, "1.2.0", WithNotifier(notifier))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Tick(ctx)
	require.Error(t, err)

	m, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, m.LastVersionCheckedAt)
	assert.Empty(t, notifier.all())
	fetcher.AssertNumberOfCalls(t, "LatestRelease", 1)
}

func TestCheckMalformedTag(t *testing.T) {
	for _, tag := range []string{"", "latest", "1.2", "v1.2.3-beta"} {
		fetcher := &mockFetcher{}
		fetcher.On("LatestRelease", mock.Anything).Return(client.Release{TagName: tag}, nil)
		notifier := &recordingNotifier{}

		c := NewChecker(fetcher, newStore(t), "1.0.0", WithNotifier(notifier))
		_, err := c.Check(context.Background())

		var malformed *client.MalformedResponseError
		assert.ErrorAs(t, err, &malformed, "tag %q", tag)
		assert.Len(t, notifier.all(), 1)
		_, ok := c.Latest()
		assert.False(t, ok)
	}
}

func TestCheckCurrentIsNoop(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("LatestRelease", mock.Anything).Return(client.Release{TagName: "v1.0.0"}, nil)

	called := false
	c := NewChecker(fetcher, newStore(t), "1.0.0", WithNewVersionHandler(func(string) { called = true }))
	newer, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, newer)
	assert.False(t, called)
}

func TestTickPreservesOtherMetadata(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Save(context.Background(), metadata.AppMetaData{
		Extra: map[string]json.RawMessage{"theme": json.RawMessage(`"dark"`)},
	}))

	fetcher := &mockFetcher{}
	fetcher.On("LatestRelease", mock.Anything).Return(client.Release{TagName: "1.0.0"}, nil)
	c := NewChecker(fetcher, store, "1.0.0")
	_, err := c.Tick(context.Background())
	require.NoError(t, err)

	m, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, m.LastVersionCheckedAt)
	assert.JSONEq(t, `"dark"`, string(m.Extra["theme"]))
}

func TestStartStop(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("LatestRelease", mock.Anything).Return(client.Release{TagName: "v9.9.9"}, nil)

	found := make(chan string, 4)
	c := NewChecker(fetcher, newStore(t), "1.0.0",
		WithInterval(time.Hour),
		WithNewVersionHandler(func(v string) { found <- v }),
	)
	c.Start(context.Background())

	select {
	case v := <-found:
		assert.Equal(t, "9.9.9", v)
	case <-time.After(2 * time.Second):
		t.Fatal("check did not run on start")
	}

	c.Stop()
	c.Stop()
	fetcher.AssertNumberOfCalls(t, "LatestRelease", 1)
}
