package temporal

import (
	"fmt"
	"time"

	natspkg "github.com/brojonat/walletsync/service/nats"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// SyncAddressWorkflow fetches the latest transactions of an address and
// publishes the resulting view. It is triggered by a Temporal schedule at a
// configured interval, or started directly for a one-off sync.
//
// The workflow performs these steps:
// 1. Refresh the latest page and load older pages (FetchLatest activity)
// 2. Publish the view to NATS (PublishView activity)
// 3. Return a summary of what was synced
func SyncAddressWorkflow(ctx workflow.Context, input SyncAddressInput) (*SyncAddressResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SyncAddressWorkflow started", "address", input.Address, "pages", input.Pages)

	result := &SyncAddressResult{
		Address:  input.Address,
		SyncTime: workflow.Now(ctx),
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// Step 1: fetch
	var view *natspkg.ViewEvent
	err := workflow.ExecuteActivity(ctx, a.FetchLatest, FetchLatestInput{
		Address: input.Address,
		Pages:   input.Pages,
	}).Get(ctx, &view)
	if err != nil {
		logger.Error("failed to fetch address", "address", input.Address, "error", err, "retryable", !isNonRetryable(err))
		errMsg := fmt.Sprintf("failed to fetch address: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to fetch address: %w", err)
	}

	result.Balance = view.Balance.String()
	result.TotalCount = view.TotalCount
	result.LoadedCount = view.LoadedCount
	result.AllLoaded = view.AllLoaded
	result.HeadHash = view.HeadHash

	if input.SkipPublish {
		logger.Info("SyncAddressWorkflow completed without publishing", "address", input.Address)
		return result, nil
	}

	// Step 2: publish
	var published bool
	err = workflow.ExecuteActivity(ctx, a.PublishView, PublishViewInput{View: view}).Get(ctx, &published)
	if err != nil {
		logger.Error("failed to publish view", "address", input.Address, "error", err)
		errMsg := fmt.Sprintf("failed to publish view: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to publish view: %w", err)
	}
	result.Published = published

	logger.Info("SyncAddressWorkflow completed successfully",
		"address", input.Address,
		"total", result.TotalCount,
		"loaded", result.LoadedCount,
		"head", result.HeadHash,
		"published", published,
	)

	return result, nil
}
