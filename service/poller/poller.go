// Package poller runs an action on a fixed delay with pause and manual
// refresh support.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/walletsync/service/metrics"
)

// DefaultInterval is the delay between runs while polling is enabled.
const DefaultInterval = 2 * time.Second

// ErrStopped is returned by Refresh after Stop.
var ErrStopped = errors.New("poller stopped")

// Action is the unit of work run on every tick.
type Action func(ctx context.Context) error

// Option configures a Poller.
type Option func(*Poller)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) { p.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithErrorHandler sets a callback for action failures. It runs on the
// poller goroutine after the failure is logged.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Poller) { p.onError = fn }
}

// WithEnabled sets the initial enabled state. Pollers start enabled.
func WithEnabled(enabled bool) Option {
	return func(p *Poller) { p.enabled = enabled }
}

// Poller invokes its action once on Start and then, while enabled, again
// interval after the previous invocation completes. Runs never overlap.
type Poller struct {
	name     string
	action   Action
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	onError  func(error)

	runMu sync.Mutex

	mu      sync.Mutex
	enabled bool
	started bool
	stopped bool
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a poller. A non-positive interval selects DefaultInterval.
func New(name string, action Action, interval time.Duration, opts ...Option) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := &Poller{
		name:     name,
		action:   action,
		interval: interval,
		logger:   slog.Default(),
		enabled:  true,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval returns the delay between runs.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Start launches the poll loop. The action runs once immediately whether or
// not polling is enabled. Calling Start more than once, or after Stop, has
// no effect.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	enabled := p.enabled
	p.mu.Unlock()

	p.metrics.SetPollEnabled(p.name, enabled)
	p.logger.Debug("poller started", "poller", p.name, "interval", p.interval, "enabled", enabled)
	go p.loop(ctx)
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	_ = p.run(ctx, "start")

	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	if !p.Enabled() {
		timer.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-p.wake:
			timer.Stop()
			if p.Enabled() {
				timer.Reset(p.interval)
			}

		case <-timer.C:
			if !p.Enabled() {
				continue
			}
			_ = p.run(ctx, "timer")
			if ctx.Err() != nil {
				return
			}
			if p.Enabled() {
				timer.Reset(p.interval)
			}
		}
	}
}

// SetEnabled pauses or resumes polling. Resuming schedules the next run one
// full interval later.
func (p *Poller) SetEnabled(enabled bool) {
	p.mu.Lock()
	changed := p.enabled != enabled
	p.enabled = enabled
	p.mu.Unlock()

	if !changed {
		return
	}
	p.metrics.SetPollEnabled(p.name, enabled)
	p.logger.Debug("poller toggled", "poller", p.name, "enabled", enabled)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Enabled reports whether timed runs are scheduled.
func (p *Poller) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Refresh runs the action now, serialized with timed runs, and returns its
// error. It works whether or not polling is enabled.
func (p *Poller) Refresh(ctx context.Context) error {
	return p.run(ctx, "manual")
}

// Stop cancels the poll loop and waits for any in-flight run to finish.
// After Stop returns the action is never invoked again. Stop is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	// wait out a manual Refresh that is still running
	p.runMu.Lock()
	p.runMu.Unlock()
	p.logger.Debug("poller stopped", "poller", p.name)
}

func (p *Poller) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *Poller) run(ctx context.Context, trigger string) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.isStopped() {
		return ErrStopped
	}

	start := time.Now()
	err := p.action(ctx)
	p.metrics.RecordPollRun(p.name, trigger, err, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return err
		}
		p.logger.Warn("poll action failed", "poller", p.name, "trigger", trigger, "error", err)
		if p.onError != nil {
			p.onError(err)
		}
	}
	return err
}
