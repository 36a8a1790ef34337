// Package watch keeps one synchronized transaction view per watched address.
// Each watch owns a session, a reconciler and a poller that refreshes the
// latest page while the session holds pending transactions.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/brojonat/walletsync/service/metrics"
	natspkg "github.com/brojonat/walletsync/service/nats"
	"github.com/brojonat/walletsync/service/poller"
	"github.com/brojonat/walletsync/service/reconciler"
	"github.com/brojonat/walletsync/service/session"
	"github.com/brojonat/walletsync/service/txn"
)

var (
	ErrNotWatched       = errors.New("address is not watched")
	ErrTooManyAddresses = errors.New("too many watched addresses")
	ErrInvalidAddress   = errors.New("invalid address")
)

var addressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{1,128}$`)

// ValidateAddress checks that address is a non-empty base58 string.
func ValidateAddress(address string) error {
	if !addressPattern.MatchString(address) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return nil
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithPublisher publishes a view event after every successful refresh or
// page load.
func WithPublisher(p natspkg.Publisher) Option {
	return func(r *Registry) { r.publisher = p }
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Registry) { r.pollInterval = d }
}

func WithRetirePolicy(p reconciler.RetirePolicy) Option {
	return func(r *Registry) { r.policy = p }
}

// WithMaxAddresses caps the number of concurrent watches. Zero means no cap.
func WithMaxAddresses(n int) Option {
	return func(r *Registry) { r.maxAddresses = n }
}

// Watch is the live synchronization state of one address.
type Watch struct {
	Address    string
	Session    *session.Session
	Reconciler *reconciler.Reconciler
	Poller     *poller.Poller
	StartedAt  time.Time

	registry    *Registry
	stopPending func()
	stopOnce    sync.Once
}

// Refresh fetches the latest page now, serialized with timed polls.
func (w *Watch) Refresh(ctx context.Context) error {
	return w.Poller.Refresh(ctx)
}

// LoadMore fetches an older page and publishes the resulting view.
func (w *Watch) LoadMore(ctx context.Context, page int) ([]txn.Transaction, error) {
	txs, err := w.Reconciler.LoadMore(ctx, page)
	if err != nil {
		return nil, err
	}
	w.registry.publish(ctx, w, "page")
	return txs, nil
}

// View returns the current merged list.
func (w *Watch) View() reconciler.View {
	return w.Reconciler.View()
}

func (w *Watch) stop() {
	w.stopOnce.Do(func() {
		w.stopPending()
		w.Poller.Stop()
		w.Reconciler.Close()
	})
}

// Registry creates and tears down watches. It is safe for concurrent use.
type Registry struct {
	explorer     reconciler.Explorer
	logger       *slog.Logger
	metrics      *metrics.Metrics
	publisher    natspkg.Publisher
	pollInterval time.Duration
	policy       reconciler.RetirePolicy
	maxAddresses int

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	watches map[string]*Watch
	closed  bool
}

// NewRegistry creates a registry that fetches from explorer.
func NewRegistry(explorer reconciler.Explorer, opts ...Option) *Registry {
	r := &Registry{
		explorer:     explorer,
		logger:       slog.Default(),
		pollInterval: poller.DefaultInterval,
		policy:       reconciler.RetireNever{},
		watches:      make(map[string]*Watch),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Watch starts watching address and returns its watch. The boolean is false
// when the address was already watched, in which case the existing watch is
// returned unchanged.
func (r *Registry) Watch(address string) (*Watch, bool, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false, errors.New("registry closed")
	}
	if w, ok := r.watches[address]; ok {
		r.mu.Unlock()
		return w, false, nil
	}
	if r.maxAddresses > 0 && len(r.watches) >= r.maxAddresses {
		r.mu.Unlock()
		return nil, false, fmt.Errorf("%w: limit is %d", ErrTooManyAddresses, r.maxAddresses)
	}

	logger := r.logger.With("address", address)
	sess := session.New(logger)
	rec := reconciler.New(address, r.explorer, sess,
		reconciler.WithLogger(logger),
		reconciler.WithMetrics(r.metrics),
		reconciler.WithRetirePolicy(r.policy),
	)
	w := &Watch{
		Address:    address,
		Session:    sess,
		Reconciler: rec,
		StartedAt:  time.Now().UTC(),
		registry:   r,
	}
	w.Poller = poller.New("address", func(ctx context.Context) error {
		if _, err := rec.RefreshLatest(ctx); err != nil {
			return err
		}
		r.publish(ctx, w, "refresh")
		return nil
	}, r.pollInterval,
		poller.WithLogger(logger),
		poller.WithMetrics(r.metrics),
		// timed polls only run while something is waiting to confirm
		poller.WithEnabled(false),
	)
	w.stopPending = sess.OnPendingChange(func(p []txn.PendingTransaction) {
		w.Poller.SetEnabled(len(p) > 0)
	})

	r.watches[address] = w
	count := len(r.watches)
	r.mu.Unlock()

	r.metrics.SetWatchedAddresses(count)
	w.Poller.Start(r.ctx)
	r.logger.Info("watching address", "address", address, "poll_interval", r.pollInterval)
	return w, true, nil
}

// Unwatch stops the watch for address and waits for in-flight work to finish.
func (r *Registry) Unwatch(address string) error {
	r.mu.Lock()
	w, ok := r.watches[address]
	if ok {
		delete(r.watches, address)
	}
	count := len(r.watches)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotWatched, address)
	}
	w.stop()
	r.metrics.SetWatchedAddresses(count)
	r.logger.Info("stopped watching address", "address", address)
	return nil
}

// Get returns the watch for address.
func (r *Registry) Get(address string) (*Watch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watches[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotWatched, address)
	}
	return w, nil
}

// List returns all watches ordered by address.
func (r *Registry) List() []*Watch {
	r.mu.Lock()
	out := make([]*Watch, 0, len(r.watches))
	for _, w := range r.watches {
		out = append(out, w)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Close stops every watch. Further calls to Watch fail.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	watches := r.watches
	r.watches = make(map[string]*Watch)
	r.mu.Unlock()

	r.cancel()
	for _, w := range watches {
		w.stop()
	}
	r.metrics.SetWatchedAddresses(0)
}

func (r *Registry) publish(ctx context.Context, w *Watch, source string) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishView(ctx, natspkg.FromView(w.View(), source)); err != nil {
		r.logger.WarnContext(ctx, "failed to publish view", "address", w.Address, "error", err)
	}
}
