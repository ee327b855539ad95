package adapter

import (
	"context"

	"github.com/pitabwire/cartable/model"
)

// DefaultStatusByTag is the mirror table used when a module configures
// none of its own.
var DefaultStatusByTag = map[string]string{
	model.StepTagRequest:      model.MirrorStatusRequest,
	model.StepTagInProgress:   model.MirrorStatusInProgress,
	model.StepTagVerification: model.MirrorStatusVerification,
	model.StepTagFinished:     model.MirrorStatusFinished,
}

// StatusMirror copies the workflow position into Data["status"] so modules
// that render their own status column stay in sync with the engine.
//
// Moving into a step writes the status mapped from the step's tag, or from
// the step id when ByStepID has an entry. An untagged step with a legacy
// title is mapped through its title. Other steps leave the field
// untouched. A terminal action writes Finished, but only into items
// that already carry the field.
type StatusMirror struct {
	ByTag    map[string]string
	ByStepID map[string]string
	Finished string
}

// NewStatusMirror returns a mirror with the default tag table.
func NewStatusMirror() *StatusMirror {
	return &StatusMirror{
		ByTag:    DefaultStatusByTag,
		Finished: model.MirrorStatusFinished,
	}
}

// AfterTransition implements Hook.
func (m *StatusMirror) AfterTransition(_ context.Context, t *Transition) error {
	if t.Terminal() {
		if _, ok := t.Item.MirroredStatus(); ok {
			t.Item.Data[model.DataKeyStatus] = m.Finished
		}
		return nil
	}

	status, ok := m.statusFor(t.To)
	if !ok {
		return nil
	}
	if t.Item.Data == nil {
		t.Item.Data = map[string]any{}
	}
	t.Item.Data[model.DataKeyStatus] = status
	return nil
}

func (m *StatusMirror) statusFor(step *model.Step) (string, bool) {
	if s, ok := m.ByStepID[step.ID]; ok {
		return s, true
	}
	tag := step.Tag
	if tag == "" {
		var ok bool
		if tag, ok = TagForTitle(step.Title); !ok {
			return "", false
		}
	}
	s, ok := m.ByTag[tag]
	return s, ok
}

// RegisterStatusMirrors registers the default mirror for all modules and,
// for each module in overrides, a step-id mirror that runs after it and
// wins for the listed steps.
func RegisterStatusMirrors(r *Registry, overrides map[string]map[string]string) {
	r.Register(Wildcard, NewStatusMirror())
	for module, byStep := range overrides {
		r.Register(module, &StatusMirror{
			ByStepID: byStep,
			Finished: model.MirrorStatusFinished,
		})
	}
}
