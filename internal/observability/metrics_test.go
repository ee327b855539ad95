package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return InitMetrics(reg), reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)

	// Vectors only appear in Gather once a label set exists.
	m.RecordHTTPRequest("GET", "/x", 200, time.Millisecond, 0, 0)
	m.RecordWorkflowStart("WORK_ORDER", false)
	m.RecordWorkflowAction("WORK_ORDER", "APPLIED", time.Millisecond)
	m.RecordWorkflowCompletion("WORK_ORDER")
	m.SetPendingItems(map[string]int{"WORK_ORDER": 1})
	m.RecordInboxQuery("local")
	m.RecordDefinitionSave("ok")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"cartable_http_requests_total",
		"cartable_http_request_duration_seconds",
		"cartable_http_request_size_bytes",
		"cartable_http_response_size_bytes",
		"cartable_workflow_starts_total",
		"cartable_workflow_actions_total",
		"cartable_workflow_completions_total",
		"cartable_workflow_action_duration_seconds",
		"cartable_pending_items",
		"cartable_items_seen_total",
		"cartable_inbox_queries_total",
		"cartable_definitions_saved_total",
		"cartable_event_publish_failures_total",
		"cartable_idempotent_replays_total",
		"cartable_capability_cache_hits_total",
		"cartable_capability_cache_misses_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestNilMetrics_noop(t *testing.T) {
	var m *Metrics
	m.RecordHTTPRequest("GET", "/", 200, 0, 0, 0)
	m.RecordWorkflowStart("M", true)
	m.RecordWorkflowAction("M", "APPLIED", 0)
	m.RecordWorkflowCompletion("M")
	m.SetPendingItems(map[string]int{"M": 1})
	m.RecordItemSeen()
	m.RecordInboxQuery("remote")
	m.RecordDefinitionSave("ok")
	m.RecordEventPublishFailure()
	m.RecordIdempotentReplay()
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheMiss()
}

func TestRecordWorkflowLifecycle(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordWorkflowStart("WORK_ORDER", false)
	m.RecordWorkflowStart("ALARM", true)
	m.RecordWorkflowAction("WORK_ORDER", "APPLIED", 20*time.Millisecond)
	m.RecordWorkflowAction("WORK_ORDER", "ITEM_CLOSED", time.Millisecond)
	m.RecordWorkflowCompletion("WORK_ORDER")

	if v := testutil.ToFloat64(m.WorkflowStartsTotal.WithLabelValues("ALARM", "true")); v != 1 {
		t.Errorf("fallback starts = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.WorkflowActionsTotal.WithLabelValues("WORK_ORDER", "ITEM_CLOSED")); v != 1 {
		t.Errorf("ITEM_CLOSED actions = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.WorkflowCompletionsTotal.WithLabelValues("WORK_ORDER")); v != 1 {
		t.Errorf("completions = %v, want 1", v)
	}
	if n := testutil.CollectAndCount(m.WorkflowActionDuration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestSetPendingItems_replacesSeries(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetPendingItems(map[string]int{"WORK_ORDER": 4, "PERMIT": 2})
	m.SetPendingItems(map[string]int{"WORK_ORDER": 3})

	if v := testutil.ToFloat64(m.PendingItems.WithLabelValues("WORK_ORDER")); v != 3 {
		t.Errorf("WORK_ORDER pending = %v, want 3", v)
	}
	if n := testutil.CollectAndCount(m.PendingItems); n != 1 {
		t.Errorf("pending series = %d, want 1 after reset", n)
	}
}

func TestRecordCounters(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordItemSeen()
	m.RecordItemSeen()
	m.RecordEventPublishFailure()
	m.RecordIdempotentReplay()
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheMiss()
	m.RecordDefinitionSave("invalid")

	if v := testutil.ToFloat64(m.ItemsSeenTotal); v != 2 {
		t.Errorf("items seen = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.EventPublishFailures); v != 1 {
		t.Errorf("publish failures = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.IdempotentReplaysTotal); v != 1 {
		t.Errorf("replays = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.CapabilityCacheHits) + testutil.ToFloat64(m.CapabilityCacheMisses); v != 2 {
		t.Errorf("cache lookups = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.DefinitionsSavedTotal.WithLabelValues("invalid")); v != 1 {
		t.Errorf("invalid saves = %v, want 1", v)
	}
}

func TestMetricsMiddleware_usesRoutePattern(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/api/cartable/{itemID}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/api/cartable/{itemID}/seen", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/cartable/a1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/cartable/b2", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/cartable/b2/seen", nil))

	if v := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/cartable/{itemID}", "200")); v != 2 {
		t.Errorf("GET requests = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/cartable/{itemID}/seen", "404")); v != 1 {
		t.Errorf("404 requests = %v, want 1", v)
	}
	if n := testutil.CollectAndCount(m.HTTPResponseSizeBytes); n != 2 {
		t.Errorf("response size series = %d, want 2", n)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/raw/path", nil))

	if v := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200")); v != 1 {
		t.Errorf("raw path requests = %v, want 1", v)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}

func TestHistogramBuckets_sorted(t *testing.T) {
	for name, buckets := range map[string][]float64{
		"http":  httpDurationBuckets,
		"store": storeDurationBuckets,
		"body":  bodySizeBuckets,
	} {
		for i := 1; i < len(buckets); i++ {
			if buckets[i] <= buckets[i-1] {
				t.Errorf("%s buckets not sorted at index %d", name, i)
			}
		}
	}
}
