package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/pitabwire/cartable/model"
)

func transition(item *model.CartableItem, to *model.Step) *Transition {
	return &Transition{
		Item:   item,
		From:   model.Step{ID: "request"},
		Action: model.Action{ID: "submit"},
		To:     to,
	}
}

// --- StatusMirror ---

func TestStatusMirror_by_tag(t *testing.T) {
	tests := []struct {
		tag  string
		want string
	}{
		{model.StepTagRequest, model.MirrorStatusRequest},
		{model.StepTagInProgress, model.MirrorStatusInProgress},
		{model.StepTagVerification, model.MirrorStatusVerification},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			item := &model.CartableItem{Data: map[string]any{model.DataKeyStatus: model.MirrorStatusRequest}}
			err := NewStatusMirror().AfterTransition(context.Background(), transition(item, &model.Step{ID: "x", Tag: tt.tag}))
			if err != nil {
				t.Fatalf("AfterTransition error: %v", err)
			}
			if got, _ := item.MirroredStatus(); got != tt.want {
				t.Errorf("status = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusMirror_untagged_step(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"legacy title", "تایید", model.MirrorStatusVerification},
		{"legacy title with spaces", " در حال انجام ", model.MirrorStatusInProgress},
		{"unknown title leaves status", "Custom review", model.MirrorStatusRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &model.CartableItem{Data: map[string]any{model.DataKeyStatus: model.MirrorStatusRequest}}
			err := NewStatusMirror().AfterTransition(context.Background(), transition(item, &model.Step{ID: "custom", Title: tt.title}))
			if err != nil {
				t.Fatalf("AfterTransition error: %v", err)
			}
			if got, _ := item.MirroredStatus(); got != tt.want {
				t.Errorf("status = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusMirror_step_id_override(t *testing.T) {
	m := NewStatusMirror()
	m.ByStepID = map[string]string{"qa": "QUALITY_CHECK"}
	item := &model.CartableItem{}
	_ = m.AfterTransition(context.Background(), transition(item, &model.Step{ID: "qa", Tag: model.StepTagVerification}))
	if got, _ := item.MirroredStatus(); got != "QUALITY_CHECK" {
		t.Errorf("status = %q, want QUALITY_CHECK", got)
	}
}

func TestStatusMirror_terminal(t *testing.T) {
	item := &model.CartableItem{Data: map[string]any{model.DataKeyStatus: model.MirrorStatusVerification}}
	_ = NewStatusMirror().AfterTransition(context.Background(), transition(item, nil))
	if got, _ := item.MirroredStatus(); got != model.MirrorStatusFinished {
		t.Errorf("status = %q, want FINISHED", got)
	}

	bare := &model.CartableItem{Data: map[string]any{}}
	_ = NewStatusMirror().AfterTransition(context.Background(), transition(bare, nil))
	if _, ok := bare.MirroredStatus(); ok {
		t.Error("terminal mirror should not add a status field that was absent")
	}
}

// --- Registry ---

func TestRegistry_For_order(t *testing.T) {
	r := NewRegistry()
	var calls []string
	mk := func(name string) Hook {
		return HookFunc(func(context.Context, *Transition) error {
			calls = append(calls, name)
			return nil
		})
	}
	r.Register("WORK_ORDER", mk("module"))
	r.Register(Wildcard, mk("wildcard"))
	r.Register("PERMIT", mk("other"))

	item := &model.CartableItem{Module: "WORK_ORDER"}
	if err := r.Run(context.Background(), transition(item, &model.Step{ID: "x"})); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(calls) != 2 || calls[0] != "wildcard" || calls[1] != "module" {
		t.Errorf("calls = %v, want [wildcard module]", calls)
	}
}

func TestRegistry_Run_stops_on_error(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	called := false
	r.Register("M", HookFunc(func(context.Context, *Transition) error { return boom }))
	r.Register("M", HookFunc(func(context.Context, *Transition) error { called = true; return nil }))

	err := r.Run(context.Background(), transition(&model.CartableItem{Module: "M"}, nil))
	if !errors.Is(err, boom) {
		t.Errorf("Run error = %v, want boom", err)
	}
	if called {
		t.Error("hook after the failing one should not run")
	}
}

// --- legacy titles ---

func TestInferTags(t *testing.T) {
	def := &model.WorkflowDefinition{Steps: []model.Step{
		{ID: "a", Title: "درخواست"},
		{ID: "b", Title: " اتمام "},
		{ID: "c", Title: "تایید", Tag: model.StepTagInProgress},
		{ID: "d", Title: "Custom"},
	}}
	if n := InferTags(def); n != 2 {
		t.Errorf("InferTags() = %d, want 2", n)
	}
	want := []string{model.StepTagRequest, model.StepTagFinished, model.StepTagInProgress, ""}
	for i, tag := range want {
		if def.Steps[i].Tag != tag {
			t.Errorf("Steps[%d].Tag = %q, want %q", i, def.Steps[i].Tag, tag)
		}
	}
}

func TestRegisterStatusMirrors(t *testing.T) {
	r := NewRegistry()
	RegisterStatusMirrors(r, map[string]map[string]string{
		"PURCHASE": {"quote": "QUOTING"},
	})

	// A module without overrides gets the tag table.
	wo := &model.CartableItem{Module: "WORK_ORDER", Data: map[string]any{}}
	if err := r.Run(context.Background(), transition(wo, &model.Step{ID: "quote", Tag: model.StepTagInProgress})); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if got, _ := wo.MirroredStatus(); got != model.MirrorStatusInProgress {
		t.Errorf("WORK_ORDER status = %q, want IN_PROGRESS", got)
	}

	// The override wins for its step.
	pr := &model.CartableItem{Module: "PURCHASE", Data: map[string]any{}}
	_ = r.Run(context.Background(), transition(pr, &model.Step{ID: "quote", Tag: model.StepTagInProgress}))
	if got, _ := pr.MirroredStatus(); got != "QUOTING" {
		t.Errorf("PURCHASE status = %q, want QUOTING", got)
	}

	// Other steps of the overridden module still follow tags.
	_ = r.Run(context.Background(), transition(pr, &model.Step{ID: "verify", Tag: model.StepTagVerification}))
	if got, _ := pr.MirroredStatus(); got != model.MirrorStatusVerification {
		t.Errorf("PURCHASE status = %q, want VERIFICATION", got)
	}

	// Termination writes FINISHED.
	_ = r.Run(context.Background(), transition(pr, nil))
	if got, _ := pr.MirroredStatus(); got != model.MirrorStatusFinished {
		t.Errorf("PURCHASE status = %q, want FINISHED", got)
	}
}
