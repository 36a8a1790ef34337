package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	natspkg "github.com/brojonat/walletsync/service/nats"
	"github.com/brojonat/walletsync/service/poller"
	"github.com/brojonat/walletsync/service/reconciler"
	"github.com/brojonat/walletsync/service/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	addrA = "1DrDyTr9RpRsQnDnXo2YRiPzPW4ooHX5LLoqXrqfMrpQH"
	addrB = "1BEhMZqTVKJtvUV1krGRwLA7iMJr1tT45sAPJYV9ELhK9"
)

type fakeExplorer struct {
	mu      sync.Mutex
	pages   map[int][]txn.Transaction
	fail    error
	details atomic.Int64
}

func newFakeExplorer() *fakeExplorer {
	return &fakeExplorer{pages: make(map[int][]txn.Transaction)}
}

func (f *fakeExplorer) GetAddressDetails(ctx context.Context, address string) (txn.AddressDetails, error) {
	f.details.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return txn.AddressDetails{}, f.fail
	}
	n := 0
	for _, p := range f.pages {
		n += len(p)
	}
	return txn.AddressDetails{Balance: txn.NewAmount(100), TxNumber: n}, nil
}

func (f *fakeExplorer) GetAddressTransactions(ctx context.Context, address string, page int) ([]txn.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	return f.pages[page], nil
}

func (f *fakeExplorer) setPage(page int, txs ...txn.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[page] = txs
}

func confirmed(hash string) txn.Transaction {
	return txn.Transaction{
		Hash:      hash,
		Timestamp: time.UnixMilli(1700000000000),
		Inputs:    []txn.Input{{Address: addrB}},
		Outputs:   []txn.Output{{Address: addrA, Amount: txn.NewAmount(10)}},
	}
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(addrA))
	for _, bad := range []string{"", "0abc", "has space", "l", "../etc"} {
		err := ValidateAddress(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}

func TestWatchRefreshesOnStart(t *testing.T) {
	explorer := newFakeExplorer()
	explorer.setPage(1, confirmed("h1"))
	pub := natspkg.NewMockPublisher()

	r := NewRegistry(explorer, WithPublisher(pub), WithPollInterval(20*time.Millisecond))
	defer r.Close()

	w, created, err := r.Watch(addrA)
	require.NoError(t, err)
	assert.True(t, created)

	require.Eventually(t, func() bool {
		return len(w.View().Rows) == 1 && pub.GetPublishedEventCount() > 0
	}, time.Second, 5*time.Millisecond)
	assert.False(t, w.Poller.Enabled())

	events := pub.GetPublishedEventsForAddress(addrA)
	require.Len(t, events, 1)
	assert.Equal(t, "h1", events[0].HeadHash)
	assert.Equal(t, "refresh", events[0].Source)

	again, created, err := r.Watch(addrA)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, w, again)
}

func TestPollingFollowsPendingList(t *testing.T) {
	explorer := newFakeExplorer()
	r := NewRegistry(explorer, WithPollInterval(10*time.Millisecond))
	defer r.Close()

	w, _, err := r.Watch(addrA)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return explorer.details.Load() >= 1 }, time.Second, 5*time.Millisecond)

	// idle: no timed polls
	time.Sleep(50 * time.Millisecond)
	idle := explorer.details.Load()
	assert.LessOrEqual(t, idle, int64(1))

	w.Session.AddPending(txn.PendingTransaction{TxID: "p1", FromAddress: addrA, ToAddress: addrB, Amount: txn.NewAmount(5)})
	assert.True(t, w.Poller.Enabled())
	require.Eventually(t, func() bool { return explorer.details.Load() >= idle+2 }, time.Second, 5*time.Millisecond)

	w.Session.RemovePending("p1")
	assert.False(t, w.Poller.Enabled())
}

func TestPendingRetiredByPolling(t *testing.T) {
	explorer := newFakeExplorer()
	r := NewRegistry(explorer,
		WithPollInterval(10*time.Millisecond),
		WithRetirePolicy(reconciler.RetireByID{}),
	)
	defer r.Close()

	w, _, err := r.Watch(addrA)
	require.NoError(t, err)
	w.Session.AddPending(txn.PendingTransaction{TxID: "h9", FromAddress: addrA, ToAddress: addrB, Amount: txn.NewAmount(5)})

	explorer.setPage(1, confirmed("h9"))
	require.Eventually(t, func() bool { return w.Session.PendingCount() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !w.Poller.Enabled() }, time.Second, 5*time.Millisecond)
}

func TestLoadMorePublishes(t *testing.T) {
	explorer := newFakeExplorer()
	explorer.setPage(1, confirmed("h2"))
	explorer.setPage(2, confirmed("h1"))
	pub := natspkg.NewMockPublisher()

	r := NewRegistry(explorer, WithPublisher(pub))
	defer r.Close()

	w, _, err := r.Watch(addrA)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return pub.GetPublishedEventCount() == 1
	}, time.Second, 5*time.Millisecond)

	txs, err := w.LoadMore(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Len(t, w.View().Rows, 2)

	events := pub.GetPublishedEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "page", events[1].Source)
	assert.Equal(t, 2, events[1].LoadedCount)
}

func TestPublishFailureDoesNotFailRefresh(t *testing.T) {
	explorer := newFakeExplorer()
	pub := natspkg.NewMockPublisher()
	pub.SetPublishError(errors.New("nats down"))

	r := NewRegistry(explorer, WithPublisher(pub))
	defer r.Close()

	w, _, err := r.Watch(addrA)
	require.NoError(t, err)
	assert.NoError(t, w.Refresh(context.Background()))
}

func TestRefreshErrorIsReturned(t *testing.T) {
	explorer := newFakeExplorer()
	explorer.fail = errors.New("offline")

	r := NewRegistry(explorer)
	defer r.Close()

	w, _, err := r.Watch(addrA)
	require.NoError(t, err)
	assert.Error(t, w.Refresh(context.Background()))
}

func TestMaxAddresses(t *testing.T) {
	r := NewRegistry(newFakeExplorer(), WithMaxAddresses(1))
	defer r.Close()

	_, _, err := r.Watch(addrA)
	require.NoError(t, err)
	_, _, err = r.Watch(addrB)
	assert.ErrorIs(t, err, ErrTooManyAddresses)

	// re-watching an existing address is not limited
	_, created, err := r.Watch(addrA)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestUnwatchAndList(t *testing.T) {
	r := NewRegistry(newFakeExplorer())
	defer r.Close()

	_, _, err := r.Watch(addrB)
	require.NoError(t, err)
	w, _, err := r.Watch(addrA)
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, addrA, list[0].Address)

	require.NoError(t, r.Unwatch(addrA))
	assert.ErrorIs(t, r.Unwatch(addrA), ErrNotWatched)
	_, err = r.Get(addrA)
	assert.ErrorIs(t, err, ErrNotWatched)

	// the stopped poller never runs again
	assert.ErrorIs(t, w.Refresh(context.Background()), poller.ErrStopped)
}

func TestClose(t *testing.T) {
	r := NewRegistry(newFakeExplorer())
	_, _, err := r.Watch(addrA)
	require.NoError(t, err)

	r.Close()
	r.Close()
	assert.Empty(t, r.List())
	_, _, err = r.Watch(addrA)
	assert.Error(t, err)
}
