package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Explorer API Metrics
	explorerCallsTotal   *prometheus.CounterVec
	explorerCallDuration *prometheus.HistogramVec

	// Reconciler Metrics
	refreshesTotal       *prometheus.CounterVec
	refreshDuration      *prometheus.HistogramVec
	pagesLoadedTotal     *prometheus.CounterVec
	transactionsLoaded   *prometheus.CounterVec
	pendingTransactions  *prometheus.GaugeVec
	pendingRetiredTotal  *prometheus.CounterVec
	pendingRetiredByRule *prometheus.CounterVec

	// Scheduler Metrics
	pollRunsTotal      *prometheus.CounterVec
	pollRunDuration    *prometheus.HistogramVec
	pollEnabled        *prometheus.GaugeVec
	versionChecksTotal *prometheus.CounterVec
	watchedAddresses   prometheus.Gauge

	// Metadata Store Metrics
	metadataOpDuration *prometheus.HistogramVec
	metadataOpsTotal   *prometheus.CounterVec

	// Workflow Metrics
	syncWorkflowDuration        *prometheus.HistogramVec
	syncWorkflowExecutionsTotal *prometheus.CounterVec
	syncActivityDuration        *prometheus.HistogramVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Explorer API Metrics
		explorerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "explorer_calls_total",
				Help: "Total number of explorer API calls by method and status",
			},
			[]string{"method", "status"},
		),
		explorerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "explorer_call_duration_seconds",
				Help:    "Duration of explorer API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),

		// Reconciler Metrics
		refreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_refreshes_total",
				Help: "Total number of latest-page refreshes",
			},
			[]string{"address", "status"},
		),
		refreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconciler_refresh_duration_seconds",
				Help:    "Duration of latest-page refreshes in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"address"},
		),
		pagesLoadedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_pages_loaded_total",
				Help: "Total number of older pages loaded by outcome (appended, unchanged, empty, error)",
			},
			[]string{"address", "outcome"},
		),
		transactionsLoaded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_transactions_loaded_total",
				Help: "Total number of confirmed transactions received from the explorer",
			},
			[]string{"address", "source"},
		),
		pendingTransactions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "session_pending_transactions",
				Help: "Number of pending transactions held in the session",
			},
			[]string{"address"},
		),
		pendingRetiredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_pending_retired_total",
				Help: "Total number of pending transactions retired after confirmation",
			},
			[]string{"address"},
		),
		pendingRetiredByRule: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_pending_retired_by_policy_total",
				Help: "Total number of pending transactions retired by policy",
			},
			[]string{"policy"},
		),

		// Scheduler Metrics
		pollRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poll_runs_total",
				Help: "Total number of poll scheduler runs",
			},
			[]string{"scheduler", "trigger", "status"},
		),
		pollRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poll_run_duration_seconds",
				Help:    "Duration of poll scheduler runs in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"scheduler"},
		),
		pollEnabled: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "poll_enabled",
				Help: "Whether a poll scheduler is currently enabled (1) or paused (0)",
			},
			[]string{"scheduler"},
		),
		versionChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "version_checks_total",
				Help: "Total number of release version checks by result (current, newer, error)",
			},
			[]string{"result"},
		),
		watchedAddresses: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "watched_addresses",
				Help: "Number of addresses currently watched",
			},
		),

		// Metadata Store Metrics
		metadataOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metadata_op_duration_seconds",
				Help:    "Duration of metadata store operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "backend"},
		),
		metadataOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metadata_operations_total",
				Help: "Total number of metadata store operations",
			},
			[]string{"operation", "status"},
		),

		// Workflow Metrics
		syncWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_workflow_duration_seconds",
				Help:    "Duration of address sync workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"address", "status"},
		),
		syncWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_workflow_executions_total",
				Help: "Total number of address sync workflow executions",
			},
			[]string{"address", "status"},
		),
		syncActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_activity_duration_seconds",
				Help:    "Duration of address sync activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "address"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"address"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"address", "event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Explorer API metric helpers

// RecordExplorerCall records an explorer API call with duration.
func (m *Metrics) RecordExplorerCall(method string, err error, duration float64) {
	if m == nil {
		return
	}
	m.explorerCallsTotal.WithLabelValues(method, errStatus(err)).Inc()
	m.explorerCallDuration.WithLabelValues(method).Observe(duration)
}

// Reconciler metric helpers

// RecordRefresh records a latest-page refresh.
func (m *Metrics) RecordRefresh(address string, err error, duration float64) {
	if m == nil {
		return
	}
	m.refreshesTotal.WithLabelValues(address, errStatus(err)).Inc()
	m.refreshDuration.WithLabelValues(address).Observe(duration)
}

// RecordPageLoad records the outcome of loading an older page.
func (m *Metrics) RecordPageLoad(address, outcome string) {
	if m == nil {
		return
	}
	m.pagesLoadedTotal.WithLabelValues(address, outcome).Inc()
}

// RecordTransactionsLoaded records confirmed transactions received.
func (m *Metrics) RecordTransactionsLoaded(address, source string, count int) {
	if m == nil {
		return
	}
	m.transactionsLoaded.WithLabelValues(address, source).Add(float64(count))
}

// SetPendingCount records the current number of pending transactions.
func (m *Metrics) SetPendingCount(address string, count int) {
	if m == nil {
		return
	}
	m.pendingTransactions.WithLabelValues(address).Set(float64(count))
}

// RecordPendingRetired records pending transactions retired by a policy.
func (m *Metrics) RecordPendingRetired(address, policy string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.pendingRetiredTotal.WithLabelValues(address).Add(float64(count))
	m.pendingRetiredByRule.WithLabelValues(policy).Add(float64(count))
}

// Scheduler metric helpers

// RecordPollRun records one run of a poll scheduler.
func (m *Metrics) RecordPollRun(scheduler, trigger string, err error, duration float64) {
	if m == nil {
		return
	}
	m.pollRunsTotal.WithLabelValues(scheduler, trigger, errStatus(err)).Inc()
	m.pollRunDuration.WithLabelValues(scheduler).Observe(duration)
}

// SetPollEnabled records whether a poll scheduler is enabled.
func (m *Metrics) SetPollEnabled(scheduler string, enabled bool) {
	if m == nil {
		return
	}
	v := 0.0
	if enabled {
		v = 1
	}
	m.pollEnabled.WithLabelValues(scheduler).Set(v)
}

// RecordVersionCheck records a release check result.
func (m *Metrics) RecordVersionCheck(result string) {
	if m == nil {
		return
	}
	m.versionChecksTotal.WithLabelValues(result).Inc()
}

// SetWatchedAddresses records the number of watched addresses.
func (m *Metrics) SetWatchedAddresses(n int) {
	if m == nil {
		return
	}
	m.watchedAddresses.Set(float64(n))
}

// Metadata store metric helpers

// RecordMetadataOp records a metadata store operation with duration.
func (m *Metrics) RecordMetadataOp(operation, backend string, duration float64, err error) {
	if m == nil {
		return
	}
	m.metadataOpDuration.WithLabelValues(operation, backend).Observe(duration)
	m.metadataOpsTotal.WithLabelValues(operation, errStatus(err)).Inc()
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(address, status string, duration float64) {
	if m == nil {
		return
	}
	m.syncWorkflowDuration.WithLabelValues(address, status).Observe(duration)
	m.syncWorkflowExecutionsTotal.WithLabelValues(address, status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, address string, duration float64) {
	if m == nil {
		return
	}
	m.syncActivityDuration.WithLabelValues(activity, address).Observe(duration)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(address string, delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.WithLabelValues(address).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(address, eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(address, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func errStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
