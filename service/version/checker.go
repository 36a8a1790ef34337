// Package version periodically checks for a newer published release and
// records when the last check happened.
package version

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/walletsync/client"
	"github.com/brojonat/walletsync/service/metadata"
	"github.com/brojonat/walletsync/service/metrics"
	"github.com/brojonat/walletsync/service/session"
)

// DefaultInterval is the minimum time between two remote checks.
const DefaultInterval = time.Hour

// FailureMessage is the notice shown when a check fails.
const FailureMessage = "Couldn't fetch latest wallet version."

// ReleaseFetcher returns the latest published release.
type ReleaseFetcher interface {
	LatestRelease(ctx context.Context) (client.Release, error)
}

// Notifier receives user-facing notices.
type Notifier interface {
	Notify(session.Notice)
}

// NextCheck decides when the next remote check is due. A missing timestamp or
// one at least interval old is due now. Otherwise the remaining time is
// returned; a timestamp in the future never yields more than interval.
func NextCheck(lastCheckedAt *time.Time, now time.Time, interval time.Duration) (time.Duration, bool) {
	if lastCheckedAt == nil {
		return 0, true
	}
	elapsed := now.Sub(*lastCheckedAt)
	if elapsed >= interval {
		return 0, true
	}
	if elapsed < 0 {
		return interval, false
	}
	return interval - elapsed, false
}

// Option configures a Checker.
type Option func(*Checker)

func WithInterval(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(c *Checker) { c.notifier = n }
}

// WithNewVersionHandler sets a callback invoked with the normalized version
// whenever a check finds a newer release.
func WithNewVersionHandler(fn func(version string)) Option {
	return func(c *Checker) { c.onNewVersion = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Checker) { c.metrics = m }
}

// Checker runs the release check at most once per interval across restarts,
// using the metadata store to remember the last attempt.
type Checker struct {
	fetcher      ReleaseFetcher
	store        metadata.Store
	current      string
	interval     time.Duration
	now          func() time.Time
	notifier     Notifier
	onNewVersion func(string)
	logger       *slog.Logger
	metrics      *metrics.Metrics

	mu     sync.Mutex
	latest string

	loopMu  sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewChecker creates a checker for the running build's version.
func NewChecker(fetcher ReleaseFetcher, store metadata.Store, current string, opts ...Option) *Checker {
	c := &Checker{
		fetcher:  fetcher,
		store:    store,
		current:  current,
		interval: DefaultInterval,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Latest returns the newest release found so far, if it is newer than the
// running build.
func (c *Checker) Latest() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest, c.latest != ""
}

// Current returns the running build's version.
func (c *Checker) Current() string {
	return c.current
}

// Tick runs one scheduling step: when a check is due it performs it and
// records the attempt time, even when the check fails. An attempt cut short
// by ctx is not recorded. It returns the delay until the next step.
func (c *Checker) Tick(ctx context.Context) (time.Duration, error) {
	m, err := c.store.Load(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to load app metadata, checking now", "error", err)
		m = metadata.AppMetaData{}
	}

	delay, due := NextCheck(m.LastVersionCheckedAt, c.now(), c.interval)
	if !due {
		c.logger.DebugContext(ctx, "version check not due", "delay", delay)
		return delay, nil
	}

	_, checkErr := c.Check(ctx)
	if ctx.Err() != nil {
		return c.interval, checkErr
	}

	checkedAt := c.now().UTC()
	if _, err := metadata.Update(ctx, c.store, func(m *metadata.AppMetaData) {
		m.LastVersionCheckedAt = &checkedAt
	}); err != nil {
		c.logger.ErrorContext(ctx, "failed to persist version check time", "error", err)
	}
	return c.interval, checkErr
}

// Check queries the latest release and compares it with the running build.
// It returns the newer version, or "" when the build is current. Failures
// are logged and surfaced as a single alert notice.
func (c *Checker) Check(ctx context.Context) (string, error) {
	rel, err := c.fetcher.LatestRelease(ctx)
	if err != nil {
		return "", c.fail(ctx, err)
	}

	latest, err := Normalize(rel.TagName)
	if err != nil {
		return "", c.fail(ctx, &client.MalformedResponseError{Op: "get latest release", Err: err})
	}

	newer, err := IsNewer(latest, c.current)
	if err != nil {
		// unversioned builds never prompt for updates
		c.logger.DebugContext(ctx, "skipping version comparison", "current", c.current, "error", err)
		c.metrics.RecordVersionCheck("current")
		return "", nil
	}
	if !newer {
		c.logger.DebugContext(ctx, "running latest version", "current", c.current, "latest", latest)
		c.metrics.RecordVersionCheck("current")
		return "", nil
	}

	c.mu.Lock()
	c.latest = latest
	c.mu.Unlock()

	c.metrics.RecordVersionCheck("newer")
	c.logger.InfoContext(ctx, "new version available", "current", c.current, "latest", latest)
	if c.onNewVersion != nil {
		c.onNewVersion(latest)
	}
	return latest, nil
}

func (c *Checker) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("version check cancelled: %w", err)
	}
	c.metrics.RecordVersionCheck("error")
	c.logger.ErrorContext(ctx, "failed to fetch latest release", "error", err)
	if c.notifier != nil {
		c.notifier.Notify(session.Notice{Text: FailureMessage, Type: session.NoticeAlert})
	}
	return fmt.Errorf("version check failed: %w", err)
}

// Start runs Tick immediately and then re-arms a one-shot timer with the
// delay each tick returns. It has no effect when already started or stopped.
func (c *Checker) Start(ctx context.Context) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.cancel != nil || c.stopped {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		for {
			delay, _ := c.Tick(ctx)
			if ctx.Err() != nil {
				return
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
}

// Stop cancels the pending timer and waits for an in-flight tick to return.
func (c *Checker) Stop() {
	c.loopMu.Lock()
	if c.stopped {
		c.loopMu.Unlock()
		return
	}
	c.stopped = true
	cancel, done := c.cancel, c.done
	c.loopMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
