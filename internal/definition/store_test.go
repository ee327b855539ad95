package definition

import (
	"context"
	"testing"
	"time"

	"github.com/pitabwire/cartable/internal/record"
	"github.com/pitabwire/cartable/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(record.NewMemoryStore())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

// --- Save ---

func TestStore_Save_inserts_then_replaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def := validDefinition("wo")
	saved, err := s.Save(ctx, def)
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}
	created := saved.CreatedAt

	def.Title = "Renamed"
	if _, err := s.Save(ctx, def); err != nil {
		t.Fatalf("second Save error: %v", err)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("List returned %d definitions, want 1", len(all))
	}
	if all[0].Title != "Renamed" {
		t.Errorf("Title = %q, want Renamed", all[0].Title)
	}
	if !all[0].CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed on replace: %v -> %v", created, all[0].CreatedAt)
	}
}

func TestStore_Save_tags_legacy_titles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def := model.WorkflowDefinition{
		ID: "legacy", Module: "PERMIT", Title: "Permit", IsActive: true,
		Steps: []model.Step{
			{ID: "s1", Title: "درخواست", AssigneeRole: model.AssigneeInitiator,
				Actions: []model.Action{{ID: "go", Label: "Go", NextStepID: "s2"}}},
			{ID: "s2", Title: "در حال انجام", AssigneeRole: "TECH",
				Actions: []model.Action{{ID: "done", Label: "Done", NextStepID: model.StepFinish}}},
			{ID: "s3", Title: "Archive review", AssigneeRole: "TECH", Tag: model.StepTagFinished},
		},
	}
	saved, err := s.Save(ctx, def)
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if def.Steps[0].Tag != "" {
		t.Error("Save must not modify the caller's steps")
	}

	stored, err := s.Get(ctx, "legacy")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	for _, got := range []model.WorkflowDefinition{saved, stored} {
		tags := []string{got.Steps[0].Tag, got.Steps[1].Tag, got.Steps[2].Tag}
		want := []string{model.StepTagRequest, model.StepTagInProgress, model.StepTagFinished}
		for i := range want {
			if tags[i] != want[i] {
				t.Errorf("step %d tag = %q, want %q", i, tags[i], want[i])
			}
		}
	}
}

func TestStore_Save_rejects_dangling_target(t *testing.T) {
	s := newTestStore(t)
	def := validDefinition("wo")
	def.Steps[0].Actions[0].NextStepID = "nowhere"

	_, err := s.Save(context.Background(), def)
	if !model.IsCode(err, model.ErrValidationError) {
		t.Fatalf("Save error = %v, want VALIDATION_ERROR", err)
	}
	if all, _ := s.List(context.Background()); len(all) != 0 {
		t.Errorf("invalid definition was stored")
	}
}

func TestStore_Save_reserved_fallback_id(t *testing.T) {
	s := newTestStore(t)
	def := validDefinition("fallback:WORK_ORDER")
	if _, err := s.Save(context.Background(), def); !model.IsCode(err, model.ErrBadRequest) {
		t.Errorf("Save error = %v, want BAD_REQUEST", err)
	}
}

// --- Active ---

func TestStore_Active_single_per_module(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, validDefinition("v1")); err != nil {
		t.Fatalf("Save v1 error: %v", err)
	}
	if _, err := s.Save(ctx, validDefinition("v2")); err != nil {
		t.Fatalf("Save v2 error: %v", err)
	}

	active, ok, err := s.Active(ctx, "WORK_ORDER")
	if err != nil || !ok {
		t.Fatalf("Active = %v, %v", ok, err)
	}
	if active.ID != "v2" {
		t.Errorf("Active.ID = %q, want v2", active.ID)
	}

	v1, err := s.Get(ctx, "v1")
	if err != nil {
		t.Fatalf("Get v1 error: %v", err)
	}
	if v1.IsActive {
		t.Error("v1 should have been deactivated")
	}
}

func TestStore_Active_none(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	inactive := validDefinition("draft")
	inactive.IsActive = false
	if _, err := s.Save(ctx, inactive); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	if _, ok, err := s.Active(ctx, "WORK_ORDER"); err != nil || ok {
		t.Errorf("Active = %v, %v; want false, nil", ok, err)
	}
	if _, ok, _ := s.Active(ctx, "PERMIT"); ok {
		t.Error("Active(PERMIT) should be false")
	}
}

// --- Get ---

func TestStore_Get(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want NOT_FOUND", err)
	}

	fb, err := s.Get(ctx, Fallback("MESSAGE").ID)
	if err != nil {
		t.Fatalf("Get(fallback) error: %v", err)
	}
	if fb.Module != "MESSAGE" {
		t.Errorf("fallback Module = %q, want MESSAGE", fb.Module)
	}

	if _, err := s.Save(ctx, validDefinition("wo")); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err := s.Get(ctx, "wo")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(got.Steps) != 3 || got.Steps[2].Actions[1].NextStepID != "in_progress" {
		t.Errorf("Get returned %+v", got)
	}
}
