package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/walletsync/service/metrics"
	natspkg "github.com/brojonat/walletsync/service/nats"
	"github.com/brojonat/walletsync/service/reconciler"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	Explorer  reconciler.Explorer
	Publisher natspkg.Publisher // nil disables publishing
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// Concurrency limits; zero uses 10.
	MaxConcurrentActivities int
	MaxConcurrentWorkflows  int
}

// Worker runs SyncAddressWorkflow and its activities on one task queue.
type Worker struct {
	client    client.Client
	worker    worker.Worker
	taskQueue string
	logger    *slog.Logger
}

// NewWorker dials Temporal and registers the sync workflow and activities.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Explorer == nil {
		return nil, fmt.Errorf("explorer is required")
	}
	logger := config.Logger.With("component", "temporal_worker", "task_queue", config.TaskQueue)

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal at %s: %w", config.TemporalHost, err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     orDefault(config.MaxConcurrentActivities, 10),
		MaxConcurrentWorkflowTaskExecutionSize: orDefault(config.MaxConcurrentWorkflows, 10),
	})
	register(w, NewActivities(config.Explorer, config.Publisher, config.Metrics, logger))

	logger.Info("temporal worker configured",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"publishing", config.Publisher != nil,
	)
	return &Worker{client: c, worker: w, taskQueue: config.TaskQueue, logger: logger}, nil
}

// register binds the workflow and the activity methods by name, matching the
// names ExecuteActivity uses in SyncAddressWorkflow.
func register(r worker.Registry, activities *Activities) {
	r.RegisterWorkflow(SyncAddressWorkflow)
	r.RegisterActivity(activities.FetchLatest)
	r.RegisterActivity(activities.PublishView)
}

// Run polls the task queue until ctx is cancelled, then stops the worker and
// closes the Temporal connection.
func (w *Worker) Run(ctx context.Context) error {
	defer w.client.Close()

	if err := w.worker.Start(); err != nil {
		return fmt.Errorf("failed to start worker on %s: %w", w.taskQueue, err)
	}
	w.logger.Info("temporal worker polling")

	<-ctx.Done()
	w.worker.Stop()
	w.logger.Info("temporal worker stopped")
	return nil
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
