package capability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/cartable/internal/observability"
	"github.com/pitabwire/cartable/model"
)

func testRctx(role string) *model.RequestContext {
	return &model.RequestContext{SubjectID: "user-1", Role: role}
}

// --- StaticPolicyEvaluator ---

func TestStaticPolicyEvaluator_ResolveCapabilities(t *testing.T) {
	e, err := NewStaticPolicyEvaluator("testdata/policies.yaml")
	if err != nil {
		t.Fatalf("NewStaticPolicyEvaluator() error = %v", err)
	}

	tests := []struct {
		role   string
		cap    string
		expect bool
	}{
		{"MANAGER", model.CapCartableExport, true},
		{"MANAGER", model.CapDefinitionsManage, false},
		{"PLANNER", model.CapDefinitionsManage, true},
		{"PLANNER", model.CapCartableExport, true},
		{"SUPERVISOR", model.CapDefinitionsManage, true},
		{"SUPERVISOR", model.CapCartableExport, true},
		{"manager", model.CapCartableExport, true},
		{"ADMIN", "anything:at:all", true},
		{"USER", model.CapCartableExport, false},
		{"UNKNOWN", model.CapCartableExport, false},
	}
	for _, tt := range tests {
		caps, err := e.ResolveCapabilities(testRctx(tt.role))
		if err != nil {
			t.Fatalf("ResolveCapabilities(%s) error = %v", tt.role, err)
		}
		if got := caps.Has(tt.cap); got != tt.expect {
			t.Errorf("%s has %s = %v, want %v", tt.role, tt.cap, got, tt.expect)
		}
	}
}

func TestStaticPolicyEvaluator_DefaultRoles(t *testing.T) {
	e, err := NewStaticPolicyEvaluator("")
	if err != nil {
		t.Fatalf("NewStaticPolicyEvaluator(\"\") error = %v", err)
	}
	caps, _ := e.ResolveCapabilities(testRctx("ADMIN"))
	if !caps.Has(model.CapDefinitionsManage) {
		t.Error("default ADMIN should hold every capability")
	}
	caps, _ = e.ResolveCapabilities(testRctx("USER"))
	if caps.Has(model.CapCartableExport) {
		t.Error("default USER should hold nothing")
	}
}

func TestStaticPolicyEvaluator_BadFile(t *testing.T) {
	if _, err := NewStaticPolicyEvaluator("testdata/missing.yaml"); err == nil {
		t.Fatal("expected error for missing policy file")
	}
}

func TestStaticPolicyEvaluator_InheritanceCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycle.yaml")
	policy := "roles:\n  A: [\"x:read\"]\ninherits:\n  A: [B]\n  B: [A]\n"
	if err := os.WriteFile(path, []byte(policy), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewStaticPolicyEvaluator(path)
	if err == nil || !strings.Contains(err.Error(), "inheritance cycle") {
		t.Fatalf("error = %v, want inheritance cycle", err)
	}
}

func TestStaticPolicyEvaluator_SyncKeepsPolicyOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("roles:\n  MANAGER: [\"cartable:export\"]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	e, err := NewStaticPolicyEvaluator(path)
	if err != nil {
		t.Fatalf("NewStaticPolicyEvaluator() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("roles: [not, a, map]"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := e.Sync(); err == nil {
		t.Fatal("Sync() should fail on malformed policy")
	}
	caps, _ := e.ResolveCapabilities(testRctx("MANAGER"))
	if !caps.Has(model.CapCartableExport) {
		t.Error("previous policy should remain active after a failed Sync")
	}
}

// --- Resolver ---

type mockEvaluator struct {
	calls int
	caps  model.CapabilitySet
}

func (m *mockEvaluator) ResolveCapabilities(*model.RequestContext) (model.CapabilitySet, error) {
	m.calls++
	return m.caps, nil
}

func (m *mockEvaluator) Sync() error { return nil }

func TestResolver_Resolve_and_Cache(t *testing.T) {
	mock := &mockEvaluator{caps: model.CapabilitySet{model.CapCartableExport: true}}
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	r := NewResolver(mock, time.Minute, 0, metrics)
	rctx := testRctx("MANAGER")

	for range 3 {
		caps, err := r.Resolve(rctx)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !caps.Has(model.CapCartableExport) {
			t.Error("resolved set should carry the evaluator's capabilities")
		}
	}
	if mock.calls != 1 {
		t.Errorf("evaluator calls = %d, want 1 (cached)", mock.calls)
	}
	if v := testutil.ToFloat64(metrics.CapabilityCacheHits); v != 2 {
		t.Errorf("cache hits = %v, want 2", v)
	}
	if v := testutil.ToFloat64(metrics.CapabilityCacheMisses); v != 1 {
		t.Errorf("cache misses = %v, want 1", v)
	}
}

func TestResolver_RoleChangeMisses(t *testing.T) {
	mock := &mockEvaluator{caps: model.CapabilitySet{}}
	r := NewResolver(mock, time.Minute, 0, nil)

	_, _ = r.Resolve(testRctx("USER"))
	_, _ = r.Resolve(testRctx("MANAGER"))
	if mock.calls != 2 {
		t.Errorf("evaluator calls = %d, want 2 (role is part of the key)", mock.calls)
	}
}

func TestResolver_Invalidate(t *testing.T) {
	mock := &mockEvaluator{caps: model.CapabilitySet{}}
	r := NewResolver(mock, time.Minute, 0, nil)
	rctx := testRctx("USER")

	_, _ = r.Resolve(rctx)
	r.Invalidate("user-1")
	_, _ = r.Resolve(rctx)
	if mock.calls != 2 {
		t.Fatalf("evaluator calls = %d after invalidate, want 2", mock.calls)
	}
}

func TestResolver_TTLExpiry(t *testing.T) {
	mock := &mockEvaluator{caps: model.CapabilitySet{}}
	r := NewResolver(mock, time.Minute, 0, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	rctx := testRctx("USER")

	_, _ = r.Resolve(rctx)
	now = now.Add(2 * time.Minute)
	_, _ = r.Resolve(rctx)

	if mock.calls != 2 {
		t.Fatalf("evaluator calls = %d, want 2 (TTL expired)", mock.calls)
	}
}

func TestResolver_MaxEntries(t *testing.T) {
	mock := &mockEvaluator{caps: model.CapabilitySet{}}
	r := NewResolver(mock, time.Minute, 2, nil)

	for _, id := range []string{"a", "b", "c"} {
		_, _ = r.Resolve(&model.RequestContext{SubjectID: id, Role: "USER"})
	}
	r.mu.RLock()
	n := len(r.cache)
	r.mu.RUnlock()
	if n > 2 {
		t.Errorf("cache size = %d, want at most 2", n)
	}
}

func TestResolver_Require(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policies.yaml")
	r := NewResolver(e, time.Minute, 0, nil)

	if err := r.Require(testRctx("PLANNER"), model.CapDefinitionsManage); err != nil {
		t.Errorf("PLANNER Require error = %v", err)
	}
	err := r.Require(testRctx("USER"), model.CapDefinitionsManage)
	if !model.IsCode(err, model.ErrForbidden) {
		t.Errorf("USER Require err = %v, want FORBIDDEN", err)
	}
}
