package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/walletsync/service/metrics"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// ScheduleSummary describes an address's sync schedule.
type ScheduleSummary struct {
	ID              string      `json:"id"`
	Address         string      `json:"address"`
	Interval        string      `json:"interval,omitempty"`
	Pages           int         `json:"pages,omitempty"`
	Paused          bool        `json:"paused"`
	NumActions      int64       `json:"num_actions"`
	NextActionTimes []time.Time `json:"next_action_times,omitempty"`
	LastRunAt       *time.Time  `json:"last_run_at,omitempty"`
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		metrics:   m,
		logger:    logger,
	}, nil
}

func (c *Client) syncAction(address string, pages int) *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        workflowID(address),
		Workflow:  SyncAddressWorkflow,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{SyncAddressInput{Address: address, Pages: pages}},
	}
}

// CreateSyncSchedule creates a new Temporal schedule for syncing an address.
func (c *Client) CreateSyncSchedule(ctx context.Context, address string, interval time.Duration, pages int) error {
	id := ScheduleID(address)

	c.logger.Debug("creating sync schedule",
		"address", address,
		"schedule_id", id,
		"interval", interval,
		"pages", pages,
	)

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{
				{Every: interval},
			},
		},
		Action: c.syncAction(address, pages),
		// a slow explorer must not pile up runs
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		Memo: map[string]interface{}{
			"address":    address,
			"pages":      pages,
			"created_by": "walletsync",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"address", address,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("sync schedule created",
		"address", address,
		"schedule_id", id,
		"interval", interval,
	)

	return nil
}

// UpsertSyncSchedule creates or updates a Temporal schedule for syncing an address.
// If the schedule already exists, it updates the interval and page count.
func (c *Client) UpsertSyncSchedule(ctx context.Context, address string, interval time.Duration, pages int) error {
	id := ScheduleID(address)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("failed to describe schedule %q: %w", id, err)
		}
		c.logger.Debug("schedule not found, creating new one", "schedule_id", id)
		return c.CreateSyncSchedule(ctx, address, interval, pages)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			input.Description.Schedule.Action = c.syncAction(address, pages)
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"address", address,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("sync schedule updated",
		"address", address,
		"schedule_id", id,
		"interval", interval,
		"pages", pages,
	)

	return nil
}

// DeleteSyncSchedule deletes the Temporal schedule for an address.
func (c *Client) DeleteSyncSchedule(ctx context.Context, address string) error {
	id := ScheduleID(address)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %q", ErrScheduleNotFound, id)
		}
		c.logger.Error("failed to delete schedule",
			"address", address,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("sync schedule deleted", "address", address, "schedule_id", id)
	return nil
}

// DescribeSyncSchedule returns the state of an address's schedule.
func (c *Client) DescribeSyncSchedule(ctx context.Context, address string) (*ScheduleSummary, error) {
	id := ScheduleID(address)

	desc, err := c.client.ScheduleClient().GetHandle(ctx, id).Describe(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %q", ErrScheduleNotFound, id)
		}
		return nil, fmt.Errorf("failed to describe schedule %q: %w", id, err)
	}

	summary := &ScheduleSummary{
		ID:              id,
		Address:         address,
		NumActions:      int64(desc.Info.NumActions),
		NextActionTimes: desc.Info.NextActionTimes,
	}
	if desc.Schedule.State != nil {
		summary.Paused = desc.Schedule.State.Paused
	}
	if desc.Schedule.Spec != nil && len(desc.Schedule.Spec.Intervals) > 0 {
		summary.Interval = desc.Schedule.Spec.Intervals[0].Every.String()
	}
	if action, ok := desc.Schedule.Action.(*client.ScheduleWorkflowAction); ok && len(action.Args) > 0 {
		summary.Pages = decodePages(action.Args[0])
	}
	if n := len(desc.Info.RecentActions); n > 0 {
		last := desc.Info.RecentActions[n-1].ActualTime
		summary.LastRunAt = &last
	}
	return summary, nil
}

// ListSyncSchedules lists the IDs of all sync schedules.
func (c *Client) ListSyncSchedules(ctx context.Context) ([]string, error) {
	iter, err := c.client.ScheduleClient().List(ctx, client.ScheduleListOptions{PageSize: 100})
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	var ids []string
	for iter.HasNext() {
		entry, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to list schedules: %w", err)
		}
		if strings.HasPrefix(entry.ID, ScheduleID("")) {
			ids = append(ids, entry.ID)
		}
	}
	return ids, nil
}

// RunSync starts a one-off SyncAddressWorkflow and waits for its result.
func (c *Client) RunSync(ctx context.Context, input SyncAddressInput) (*SyncAddressResult, error) {
	start := time.Now()

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("sync-address-once-%s-%d", input.Address, start.UnixMilli()),
		TaskQueue: c.taskQueue,
	}, SyncAddressWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("failed to start sync workflow: %w", err)
	}

	c.logger.Debug("sync workflow started", "workflow_id", run.GetID(), "run_id", run.GetRunID())

	var result SyncAddressResult
	if err := run.Get(ctx, &result); err != nil {
		c.metrics.RecordWorkflowDuration(input.Address, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("sync workflow failed: %w", err)
	}
	c.metrics.RecordWorkflowDuration(input.Address, "success", time.Since(start).Seconds())
	return &result, nil
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// decodePages reads the page count from a described schedule argument, which
// the server returns as a raw payload.
func decodePages(arg interface{}) int {
	var in SyncAddressInput
	switch v := arg.(type) {
	case SyncAddressInput:
		in = v
	case *commonpb.Payload:
		if err := converter.GetDefaultDataConverter().FromPayload(v, &in); err != nil {
			return 0
		}
	}
	return in.Pages
}

func isNotFound(err error) bool {
	var notFound *serviceerror.NotFound
	return errors.As(err, &notFound)
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
