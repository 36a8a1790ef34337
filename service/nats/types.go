package nats

import (
	"time"

	"github.com/brojonat/walletsync/service/reconciler"
	"github.com/brojonat/walletsync/service/txn"
)

// MaxEventRows caps how many rows of the merged list ride along in an event.
const MaxEventRows = 20

// ViewEvent is a snapshot of an address's merged transaction list.
// It is published to the subject "views.{address}" in JetStream.
type ViewEvent struct {
	Address       string     `json:"address"`
	Balance       txn.Amount `json:"balance"`
	LockedBalance txn.Amount `json:"lockedBalance"`
	TotalCount    int        `json:"totalCount"`
	PendingCount  int        `json:"pendingCount"`
	LoadedCount   int        `json:"loadedCount"`
	AllLoaded     bool       `json:"allLoaded"`

	// Most recent rows, pending first
	Rows []txn.Row `json:"rows"`

	// Hash of the newest confirmed transaction, empty when none is loaded
	HeadHash string `json:"headHash,omitempty"`

	Source      string    `json:"source"`
	PublishedAt time.Time `json:"publishedAt"`
}

// FromView converts a reconciler view to a ViewEvent for publishing.
func FromView(v reconciler.View, source string) *ViewEvent {
	event := &ViewEvent{
		Address:       v.Address,
		Balance:       v.Balance,
		LockedBalance: v.LockedBalance,
		TotalCount:    v.TotalCount,
		PendingCount:  v.PendingCount,
		LoadedCount:   len(v.Rows) - v.PendingCount,
		AllLoaded:     v.AllLoaded,
		Source:        source,
		PublishedAt:   time.Now().UTC(),
	}

	rows := v.Rows
	if len(rows) > MaxEventRows {
		rows = rows[:MaxEventRows]
	}
	event.Rows = append([]txn.Row(nil), rows...)

	for _, row := range v.Rows {
		if !row.Pending {
			event.HeadHash = row.ID
			break
		}
	}
	return event
}

// Subject returns the subject the event is published to.
func (e *ViewEvent) Subject() string {
	return SubjectPrefix + e.Address
}
