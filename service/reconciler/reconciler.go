// Package reconciler keeps an address's transaction list in sync with the
// explorer: it refreshes the most recent page, paginates older history and
// merges pending transactions held in the session.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/walletsync/client"
	"github.com/brojonat/walletsync/service/metrics"
	"github.com/brojonat/walletsync/service/session"
	"github.com/brojonat/walletsync/service/txn"
)

// RefreshFailedMessage is shown when a refresh fails without a server detail.
const RefreshFailedMessage = "Couldn't fetch transactions."

// Explorer is the subset of the explorer API the reconciler needs.
type Explorer interface {
	GetAddressDetails(ctx context.Context, address string) (txn.AddressDetails, error)
	GetAddressTransactions(ctx context.Context, address string, page int) ([]txn.Transaction, error)
}

// Latest is the result of a refresh.
type Latest struct {
	Balance       txn.Amount
	LockedBalance txn.Amount
	TotalCount    int
	FirstPage     []txn.Transaction
}

// View is a snapshot of the merged transaction list of an address.
type View struct {
	Address        string     `json:"address"`
	Balance        txn.Amount `json:"balance"`
	LockedBalance  txn.Amount `json:"lockedBalance"`
	TotalCount     int        `json:"totalCount"`
	PendingCount   int        `json:"pendingCount"`
	Rows           []txn.Row  `json:"rows"`
	Loading        bool       `json:"loading"`
	AllLoaded      bool       `json:"allLoaded"`
	LastLoadedPage int        `json:"lastLoadedPage"`
	LastError      string     `json:"lastError,omitempty"`
}

// NextPage is the page LoadMore should be asked for next.
func (v View) NextPage() int {
	return v.LastLoadedPage + 1
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithRetirePolicy sets how confirmed transactions retire pending entries.
// The default is RetireNever.
func WithRetirePolicy(p RetirePolicy) Option {
	return func(r *Reconciler) {
		if p != nil {
			r.policy = p
		}
	}
}

// Reconciler owns the confirmed-transaction state of one address. All state
// changes go through Reduce under mu; network calls happen outside the lock
// and subscribers are called outside it with a View snapshot.
type Reconciler struct {
	address  string
	explorer Explorer
	session  *session.Session
	policy   RetirePolicy
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu          sync.Mutex
	state       State
	nextSubID   int
	subscribers map[int]func(View)

	// deliverMu serializes notify so views reach subscribers in the order
	// they were built.
	deliverMu sync.Mutex

	stopPending func()
}

// New creates a reconciler for address. sess may be shared with the send
// flow; changes to its pending list are reflected in the view.
func New(address string, explorer Explorer, sess *session.Session, opts ...Option) *Reconciler {
	r := &Reconciler{
		address:     address,
		explorer:    explorer,
		session:     sess,
		policy:      RetireNever{},
		logger:      slog.Default(),
		state:       NewState(address),
		subscribers: make(map[int]func(View)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.session == nil {
		r.session = session.New(r.logger)
	}
	r.stopPending = r.session.OnPendingChange(func(p []txn.PendingTransaction) {
		r.metrics.SetPendingCount(r.address, len(p))
		r.notify()
	})
	return r
}

// Address returns the address this reconciler tracks.
func (r *Reconciler) Address() string {
	return r.address
}

// Session returns the session holding pending transactions.
func (r *Reconciler) Session() *session.Session {
	return r.session
}

// Close detaches the reconciler from its session and drops subscribers.
func (r *Reconciler) Close() {
	if r.stopPending != nil {
		r.stopPending()
	}
	r.mu.Lock()
	r.subscribers = make(map[int]func(View))
	r.mu.Unlock()
}

// RefreshLatest fetches the address details and the first page, replaces the
// loaded list with that page and resets pagination. On failure the state is
// left as it was and an alert notice is sent to the session.
func (r *Reconciler) RefreshLatest(ctx context.Context) (Latest, error) {
	start := time.Now()

	r.mu.Lock()
	r.state = Reduce(r.state, RefreshStarted{})
	seq := r.state.CurrentRefreshSeq()
	r.mu.Unlock()
	r.notify()

	details, firstPage, err := r.fetchLatest(ctx)
	r.metrics.RecordRefresh(r.address, err, time.Since(start).Seconds())
	if err != nil {
		r.apply(RefreshFailed{Err: err})
		r.logger.ErrorContext(ctx, "failed to refresh transactions", "address", r.address, "error", err)
		r.session.Notify(session.Notice{
			Text: client.UserMessage(err, RefreshFailedMessage),
			Type: session.NoticeAlert,
		})
		return Latest{}, err
	}

	r.metrics.RecordTransactionsLoaded(r.address, "refresh", len(firstPage))
	r.apply(LatestFetched{Seq: seq, Details: details, FirstPage: firstPage})
	r.ReconcilePending()

	r.logger.DebugContext(ctx, "refreshed transactions",
		"address", r.address,
		"balance", details.Balance.String(),
		"total", details.TxNumber,
		"first_page", len(firstPage),
	)
	return Latest{
		Balance:       details.Balance,
		LockedBalance: details.LockedBalance,
		TotalCount:    details.TxNumber,
		FirstPage:     firstPage,
	}, nil
}

func (r *Reconciler) fetchLatest(ctx context.Context) (txn.AddressDetails, []txn.Transaction, error) {
	details, err := r.explorer.GetAddressDetails(ctx, r.address)
	if err != nil {
		return txn.AddressDetails{}, nil, fmt.Errorf("failed to fetch address details: %w", err)
	}
	page, err := r.explorer.GetAddressTransactions(ctx, r.address, 1)
	if err != nil {
		return txn.AddressDetails{}, nil, fmt.Errorf("failed to fetch first page: %w", err)
	}
	return details, page, nil
}

// LoadMore fetches page and appends it to the loaded list. An empty page, or
// one whose last hash equals the current tail, leaves the list unchanged. A
// failure leaves the list unchanged and is returned without retry.
func (r *Reconciler) LoadMore(ctx context.Context, page int) ([]txn.Transaction, error) {
	if page < 1 {
		return nil, fmt.Errorf("invalid page %d", page)
	}

	r.apply(LoadStarted{Page: page})

	txs, err := r.explorer.GetAddressTransactions(ctx, r.address, page)
	if err != nil {
		r.apply(LoadFailed{Page: page, Err: err})
		r.metrics.RecordPageLoad(r.address, OutcomeError)
		r.logger.WarnContext(ctx, "failed to load page", "address", r.address, "page", page, "error", err)
		return nil, fmt.Errorf("failed to load page %d: %w", page, err)
	}

	r.mu.Lock()
	r.state = Reduce(r.state, PageLoaded{Page: page, Transactions: txs})
	outcome := r.state.LastOutcome()
	r.mu.Unlock()
	r.notify()

	r.metrics.RecordPageLoad(r.address, outcome)
	r.metrics.RecordTransactionsLoaded(r.address, "page", len(txs))
	if outcome == OutcomeUnchanged {
		r.logger.DebugContext(ctx, "page already loaded", "address", r.address, "page", page)
	}
	if outcome == OutcomeAppended {
		r.ReconcilePending()
	}
	return txs, nil
}

// ReconcilePending applies the retire policy to the session's pending list
// against the loaded confirmed transactions and returns the retired entries.
func (r *Reconciler) ReconcilePending() []txn.PendingTransaction {
	pending := r.session.Pending()
	if len(pending) == 0 {
		return nil
	}

	r.mu.Lock()
	confirmed := r.state.Confirmed
	r.mu.Unlock()

	ids := r.policy.Retire(r.address, pending, confirmed)
	if len(ids) == 0 {
		return nil
	}
	removed := r.session.RemovePending(ids...)
	r.metrics.RecordPendingRetired(r.address, r.policy.Name(), len(removed))
	for _, p := range removed {
		r.logger.Info("pending transaction confirmed", "address", r.address, "tx_id", p.TxID, "policy", r.policy.Name())
	}
	return removed
}

// State returns a copy of the confirmed-side state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// View returns the merged list: pending entries newest first, followed by
// confirmed transactions in server order. Entries are not de-duplicated.
func (r *Reconciler) View() View {
	r.mu.Lock()
	s := r.state
	r.mu.Unlock()
	return buildView(s, r.session.Pending())
}

func buildView(s State, pending []txn.PendingTransaction) View {
	rows := make([]txn.Row, 0, len(pending)+len(s.Confirmed))
	for i := len(pending) - 1; i >= 0; i-- {
		rows = append(rows, txn.ClassifyPending(pending[i]))
	}
	for _, tx := range s.Confirmed {
		rows = append(rows, txn.Classify(tx, s.Address))
	}
	return View{
		Address:        s.Address,
		Balance:        s.Balance,
		LockedBalance:  s.LockedBalance,
		TotalCount:     s.TotalCount,
		PendingCount:   len(pending),
		Rows:           rows,
		Loading:        s.Loading(),
		AllLoaded:      s.AllLoaded(),
		LastLoadedPage: s.LastLoadedPage,
		LastError:      s.LastError,
	}
}

// Subscribe registers fn to receive a View after every state change. The
// returned function unregisters it. Deliveries are serialized and the last
// View delivered reflects the latest state; fn must not call back into the
// reconciler or its session.
func (r *Reconciler) Subscribe(fn func(View)) func() {
	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}
}

func (r *Reconciler) apply(ev Event) {
	r.mu.Lock()
	r.state = Reduce(r.state, ev)
	r.mu.Unlock()
	r.notify()
}

func (r *Reconciler) notify() {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	if len(r.subscribers) == 0 {
		r.mu.Unlock()
		return
	}
	subs := make([]func(View), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		subs = append(subs, fn)
	}
	s := r.state
	r.mu.Unlock()

	v := buildView(s, r.session.Pending())
	for _, fn := range subs {
		fn(v)
	}
}
