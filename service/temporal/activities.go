package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/walletsync/service/metrics"
	natspkg "github.com/brojonat/walletsync/service/nats"
	"github.com/brojonat/walletsync/service/reconciler"
	"github.com/brojonat/walletsync/service/session"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// MaxSyncPages bounds how many pages one sync may fetch.
const MaxSyncPages = 50

// SyncAddressInput contains the input parameters for syncing an address.
type SyncAddressInput struct {
	Address string `json:"address"`
	// Pages is how many pages of history to load; zero means one.
	Pages int `json:"pages"`
	// SkipPublish disables publishing the resulting view to NATS.
	SkipPublish bool `json:"skip_publish,omitempty"`
}

// SyncAddressResult contains the result of syncing an address.
type SyncAddressResult struct {
	Address     string    `json:"address"`
	Balance     string    `json:"balance"`
	TotalCount  int       `json:"total_count"`
	LoadedCount int       `json:"loaded_count"`
	AllLoaded   bool      `json:"all_loaded"`
	HeadHash    string    `json:"head_hash,omitempty"`
	Published   bool      `json:"published"`
	SyncTime    time.Time `json:"sync_time"`
	Error       *string   `json:"error,omitempty"`
}

// FetchLatestInput contains parameters for the FetchLatest activity.
type FetchLatestInput struct {
	Address string `json:"address"`
	Pages   int    `json:"pages"`
}

// PublishViewInput contains parameters for the PublishView activity.
type PublishViewInput struct {
	View *natspkg.ViewEvent `json:"view"`
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	explorer  reconciler.Explorer
	publisher natspkg.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// The publisher may be nil, in which case PublishView is a no-op.
// If metrics is nil, no metrics will be recorded.
func NewActivities(explorer reconciler.Explorer, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		explorer:  explorer,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// FetchLatest refreshes the latest page of an address and then loads older
// pages until the requested count is reached or the history is exhausted.
// It returns the resulting view as an event ready for publishing.
func (a *Activities) FetchLatest(ctx context.Context, input FetchLatestInput) (*natspkg.ViewEvent, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("FetchLatest", input.Address, time.Since(start).Seconds())
	}()

	pages := input.Pages
	if pages < 1 {
		pages = 1
	}
	if pages > MaxSyncPages {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("pages must be at most %d", MaxSyncPages), "InvalidInput", nil)
	}

	// a throwaway session: headless sync has no pending transactions
	rec := reconciler.New(input.Address, a.explorer, session.New(a.logger),
		reconciler.WithLogger(a.logger),
		reconciler.WithMetrics(a.metrics),
	)
	defer rec.Close()

	if _, err := rec.RefreshLatest(ctx); err != nil {
		return nil, fmt.Errorf("failed to refresh %s: %w", input.Address, err)
	}

	for page := 2; page <= pages; page++ {
		if rec.View().AllLoaded {
			break
		}
		txs, err := rec.LoadMore(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("failed to load page %d of %s: %w", page, input.Address, err)
		}
		if len(txs) == 0 {
			break
		}
	}

	view := rec.View()
	a.logger.InfoContext(ctx, "fetched address view",
		"address", input.Address,
		"total", view.TotalCount,
		"loaded", len(view.Rows),
		"pages", view.LastLoadedPage,
	)
	return natspkg.FromView(view, "schedule"), nil
}

// PublishView publishes a view event to NATS.
func (a *Activities) PublishView(ctx context.Context, input PublishViewInput) (bool, error) {
	if input.View == nil {
		return false, temporalsdk.NewNonRetryableApplicationError("view is required", "InvalidInput", nil)
	}

	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("PublishView", input.View.Address, time.Since(start).Seconds())
	}()

	if a.publisher == nil {
		a.logger.DebugContext(ctx, "no publisher configured, skipping view", "address", input.View.Address)
		return false, nil
	}

	input.View.PublishedAt = time.Now().UTC()
	if err := a.publisher.PublishView(ctx, input.View); err != nil {
		return false, fmt.Errorf("failed to publish view for %s: %w", input.View.Address, err)
	}
	return true, nil
}

// isNonRetryable reports whether err is an input error the workflow should
// not retry.
func isNonRetryable(err error) bool {
	var appErr *temporalsdk.ApplicationError
	return errors.As(err, &appErr) && appErr.NonRetryable()
}
