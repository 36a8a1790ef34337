// Package session holds the mutable wallet-session state shared between the
// send flow and the transaction views: pending transactions and transient
// user notices.
package session

import (
	"log/slog"
	"sync"

	"github.com/brojonat/walletsync/service/txn"
)

// NoticeType is the severity of a transient notice.
type NoticeType string

const (
	NoticeInfo    NoticeType = "info"
	NoticeSuccess NoticeType = "success"
	NoticeAlert   NoticeType = "alert"
)

// Notice is a short-lived message for the user.
type Notice struct {
	Text string     `json:"text"`
	Type NoticeType `json:"type"`
}

// Session is safe for concurrent use. Listeners are invoked outside the lock
// with snapshots of the state.
type Session struct {
	mu      sync.Mutex
	pending []txn.PendingTransaction

	nextID          int
	pendingWatchers map[int]func([]txn.PendingTransaction)
	noticeWatchers  map[int]func(Notice)

	logger *slog.Logger
}

// New creates an empty session.
func New(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		pendingWatchers: make(map[int]func([]txn.PendingTransaction)),
		noticeWatchers:  make(map[int]func(Notice)),
		logger:          logger,
	}
}

// AddPending appends p to the pending list.
func (s *Session) AddPending(p txn.PendingTransaction) {
	s.mu.Lock()
	s.pending = append(s.pending, p)
	snapshot, watchers := s.pendingSnapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("pending transaction added", "tx_id", p.TxID, "to", p.ToAddress, "amount", p.Amount.String())
	for _, fn := range watchers {
		fn(snapshot)
	}
}

// RemovePending removes every entry whose TxID matches ids. It returns the
// removed entries.
func (s *Session) RemovePending(ids ...string) []txn.PendingTransaction {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	var kept, removed []txn.PendingTransaction
	for _, p := range s.pending {
		if _, ok := drop[p.TxID]; ok {
			removed = append(removed, p)
			continue
		}
		kept = append(kept, p)
	}
	if len(removed) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.pending = kept
	snapshot, watchers := s.pendingSnapshotLocked()
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(snapshot)
	}
	return removed
}

// ClearPending drops every pending entry.
func (s *Session) ClearPending() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	snapshot, watchers := s.pendingSnapshotLocked()
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(snapshot)
	}
}

// Pending returns a copy of the pending list in insertion order.
func (s *Session) Pending() []txn.PendingTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]txn.PendingTransaction(nil), s.pending...)
}

// PendingCount returns the number of pending entries.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// OnPendingChange registers fn to be called after every change of the pending
// list. The returned function unregisters it.
func (s *Session) OnPendingChange(fn func([]txn.PendingTransaction)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.pendingWatchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.pendingWatchers, id)
		s.mu.Unlock()
	}
}

// Notify delivers a notice to every notice listener. Notices are not stored.
func (s *Session) Notify(n Notice) {
	s.mu.Lock()
	watchers := make([]func(Notice), 0, len(s.noticeWatchers))
	for _, fn := range s.noticeWatchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	s.logger.Debug("notice", "type", n.Type, "text", n.Text)
	for _, fn := range watchers {
		fn(n)
	}
}

// OnNotice registers fn for notices. The returned function unregisters it.
func (s *Session) OnNotice(fn func(Notice)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.noticeWatchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.noticeWatchers, id)
		s.mu.Unlock()
	}
}

func (s *Session) pendingSnapshotLocked() ([]txn.PendingTransaction, []func([]txn.PendingTransaction)) {
	snapshot := append([]txn.PendingTransaction(nil), s.pending...)
	watchers := make([]func([]txn.PendingTransaction), 0, len(s.pendingWatchers))
	for _, fn := range s.pendingWatchers {
		watchers = append(watchers, fn)
	}
	return snapshot, watchers
}
