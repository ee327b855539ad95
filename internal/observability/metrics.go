package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	storeDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Workflow metrics
	WorkflowStartsTotal      *prometheus.CounterVec
	WorkflowActionsTotal     *prometheus.CounterVec
	WorkflowCompletionsTotal *prometheus.CounterVec
	WorkflowActionDuration   *prometheus.HistogramVec
	PendingItems             *prometheus.GaugeVec

	// Inbox metrics
	ItemsSeenTotal  prometheus.Counter
	InboxQueryTotal *prometheus.CounterVec

	// System metrics
	DefinitionsSavedTotal  *prometheus.CounterVec
	EventPublishFailures   prometheus.Counter
	IdempotentReplaysTotal prometheus.Counter
	CapabilityCacheHits    prometheus.Counter
	CapabilityCacheMisses  prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartable_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cartable_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cartable_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cartable_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Workflows
		WorkflowStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartable_workflow_starts_total",
			Help: "Total number of workflow instances created.",
		}, []string{"module", "fallback"}),
		WorkflowActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartable_workflow_actions_total",
			Help: "Total number of processed actions by outcome.",
		}, []string{"module", "outcome"}),
		WorkflowCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartable_workflow_completions_total",
			Help: "Total number of workflow instances closed.",
		}, []string{"module"}),
		WorkflowActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cartable_workflow_action_duration_seconds",
			Help:    "Time to process an action including persistence.",
			Buckets: storeDurationBuckets,
		}, []string{"module"}),
		PendingItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cartable_pending_items",
			Help: "Number of pending cartable items.",
		}, []string{"module"}),

		// Inbox
		ItemsSeenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cartable_items_seen_total",
			Help: "Total number of mark-seen calls.",
		}),
		InboxQueryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartable_inbox_queries_total",
			Help: "Total number of inbox projections computed.",
		}, []string{"kind"}),

		// System
		DefinitionsSavedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartable_definitions_saved_total",
			Help: "Total definition saves by result.",
		}, []string{"status"}),
		EventPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cartable_event_publish_failures_total",
			Help: "Total events that could not be published.",
		}),
		IdempotentReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cartable_idempotent_replays_total",
			Help: "Total action submissions answered from the idempotency store.",
		}),
		CapabilityCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cartable_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cartable_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Workflows
		m.WorkflowStartsTotal,
		m.WorkflowActionsTotal,
		m.WorkflowCompletionsTotal,
		m.WorkflowActionDuration,
		m.PendingItems,
		// Inbox
		m.ItemsSeenTotal,
		m.InboxQueryTotal,
		// System
		m.DefinitionsSavedTotal,
		m.EventPublishFailures,
		m.IdempotentReplaysTotal,
		m.CapabilityCacheHits,
		m.CapabilityCacheMisses,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordWorkflowStart records an instance creation.
func (m *Metrics) RecordWorkflowStart(module string, fallback bool) {
	if m == nil {
		return
	}
	m.WorkflowStartsTotal.WithLabelValues(module, strconv.FormatBool(fallback)).Inc()
}

// RecordWorkflowAction records a processed action and its outcome.
func (m *Metrics) RecordWorkflowAction(module, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowActionsTotal.WithLabelValues(module, outcome).Inc()
	m.WorkflowActionDuration.WithLabelValues(module).Observe(duration.Seconds())
}

// RecordWorkflowCompletion records an item reaching DONE.
func (m *Metrics) RecordWorkflowCompletion(module string) {
	if m == nil {
		return
	}
	m.WorkflowCompletionsTotal.WithLabelValues(module).Inc()
}

// SetPendingItems replaces the pending-items gauge with the given counts.
func (m *Metrics) SetPendingItems(counts map[string]int) {
	if m == nil {
		return
	}
	m.PendingItems.Reset()
	for module, n := range counts {
		m.PendingItems.WithLabelValues(module).Set(float64(n))
	}
}

// RecordItemSeen records a mark-seen call.
func (m *Metrics) RecordItemSeen() {
	if m == nil {
		return
	}
	m.ItemsSeenTotal.Inc()
}

// RecordInboxQuery records an inbox projection of the given kind.
func (m *Metrics) RecordInboxQuery(kind string) {
	if m == nil {
		return
	}
	m.InboxQueryTotal.WithLabelValues(kind).Inc()
}

// RecordDefinitionSave records a definition save.
func (m *Metrics) RecordDefinitionSave(status string) {
	if m == nil {
		return
	}
	m.DefinitionsSavedTotal.WithLabelValues(status).Inc()
}

// RecordEventPublishFailure records an event that could not be published.
func (m *Metrics) RecordEventPublishFailure() {
	if m == nil {
		return
	}
	m.EventPublishFailures.Inc()
}

// RecordIdempotentReplay records a cached action response being replayed.
func (m *Metrics) RecordIdempotentReplay() {
	if m == nil {
		return
	}
	m.IdempotentReplaysTotal.Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	if m == nil {
		return
	}
	m.CapabilityCacheHits.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	if m == nil {
		return
	}
	m.CapabilityCacheMisses.Inc()
}
