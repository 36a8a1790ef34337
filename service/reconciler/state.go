package reconciler

import (
	"github.com/brojonat/walletsync/service/txn"
)

// Outcomes of a page load.
const (
	OutcomeAppended  = "appended"
	OutcomeUnchanged = "unchanged"
	OutcomeEmpty     = "empty"
	OutcomeError     = "error"
)

// State is the confirmed-transaction side of an address view. Pending
// transactions live in the session and are merged in by View.
type State struct {
	Address        string
	Confirmed      []txn.Transaction
	TotalCount     int
	Balance        txn.Amount
	LockedBalance  txn.Amount
	LastLoadedPage int
	LastError      string

	refreshing  int
	loading     int
	refreshSeq  uint64
	appliedSeq  uint64
	lastOutcome string
	everFetched bool
}

// NewState returns the initial state for address.
func NewState(address string) State {
	return State{Address: address, LastLoadedPage: 1}
}

// Loading reports whether a refresh or page load is in flight.
func (s State) Loading() bool {
	return s.refreshing > 0 || s.loading > 0
}

// AllLoaded reports whether every confirmed transaction has been fetched.
func (s State) AllLoaded() bool {
	return len(s.Confirmed) == s.TotalCount
}

// Fetched reports whether a refresh has completed at least once.
func (s State) Fetched() bool {
	return s.everFetched
}

// LastOutcome is the outcome of the most recent page load.
func (s State) LastOutcome() string {
	return s.lastOutcome
}

// Event is an input to Reduce.
type Event interface {
	event()
}

// RefreshStarted marks the start of a refresh. Reduce assigns it a sequence
// number, readable through CurrentRefreshSeq.
type RefreshStarted struct{}

// LatestFetched carries a completed refresh. Results from a refresh older
// than the last applied one are ignored.
type LatestFetched struct {
	Seq       uint64
	Details   txn.AddressDetails
	FirstPage []txn.Transaction
}

type RefreshFailed struct {
	Err error
}

type LoadStarted struct {
	Page int
}

type PageLoaded struct {
	Page         int
	Transactions []txn.Transaction
}

type LoadFailed struct {
	Page int
	Err  error
}

func (RefreshStarted) event() {}
func (LatestFetched) event()  {}
func (RefreshFailed) event()  {}
func (LoadStarted) event()    {}
func (PageLoaded) event()     {}
func (LoadFailed) event()     {}

// CurrentRefreshSeq is the sequence number handed to the last RefreshStarted.
func (s State) CurrentRefreshSeq() uint64 {
	return s.refreshSeq
}

// Reduce applies ev to s and returns the new state. It never mutates the
// slices held by s.
func Reduce(s State, ev Event) State {
	switch e := ev.(type) {
	case RefreshStarted:
		s.refreshing++
		s.refreshSeq++

	case LatestFetched:
		s.refreshing = decr(s.refreshing)
		if e.Seq != 0 && e.Seq < s.appliedSeq {
			return s
		}
		s.appliedSeq = e.Seq
		s.Confirmed = append([]txn.Transaction(nil), e.FirstPage...)
		s.Balance = e.Details.Balance
		s.LockedBalance = e.Details.LockedBalance
		s.TotalCount = e.Details.TxNumber
		s.LastLoadedPage = 1
		s.LastError = ""
		s.everFetched = true

	case RefreshFailed:
		s.refreshing = decr(s.refreshing)
		if e.Err != nil {
			s.LastError = e.Err.Error()
		}

	case LoadStarted:
		s.loading++

	case PageLoaded:
		s.loading = decr(s.loading)
		outcome := PageOutcome(s.Confirmed, e.Transactions)
		s.lastOutcome = outcome
		if outcome != OutcomeAppended {
			return s
		}
		merged := make([]txn.Transaction, 0, len(s.Confirmed)+len(e.Transactions))
		merged = append(merged, s.Confirmed...)
		merged = append(merged, e.Transactions...)
		s.Confirmed = merged
		if e.Page > s.LastLoadedPage {
			s.LastLoadedPage = e.Page
		}
		s.LastError = ""

	case LoadFailed:
		s.loading = decr(s.loading)
		s.lastOutcome = OutcomeError
		if e.Err != nil {
			s.LastError = e.Err.Error()
		}
	}
	return s
}

// PageOutcome decides what loading page onto confirmed would do. A page
// whose last hash equals the current tail was already appended by a
// concurrent load and is dropped.
func PageOutcome(confirmed, page []txn.Transaction) string {
	if len(page) == 0 {
		return OutcomeEmpty
	}
	if len(confirmed) > 0 && confirmed[len(confirmed)-1].Hash == page[len(page)-1].Hash {
		return OutcomeUnchanged
	}
	return OutcomeAppended
}

func decr(n int) int {
	if n > 0 {
		return n - 1
	}
	return 0
}
