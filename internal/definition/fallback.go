package definition

import (
	"strings"

	"github.com/pitabwire/cartable/model"
)

const (
	fallbackPrefix = "fallback:"
	fallbackStepID = "start"
)

// Fallback synthesizes the definition used when a module has no active
// workflow: a single initiator-owned step with no actions. Items created
// from it are dead ends that stay PENDING in the initiator's inbox.
func Fallback(module string) model.WorkflowDefinition {
	return model.WorkflowDefinition{
		ID:       fallbackPrefix + module,
		Module:   module,
		Title:    module,
		IsActive: true,
		Steps: []model.Step{{
			ID:           fallbackStepID,
			Title:        "Start",
			AssigneeRole: model.AssigneeInitiator,
			Tag:          model.StepTagRequest,
		}},
	}
}

// IsFallbackID reports whether id names a synthesized fallback definition.
func IsFallbackID(id string) bool {
	return strings.HasPrefix(id, fallbackPrefix) && len(id) > len(fallbackPrefix)
}

// FallbackModule returns the module encoded in a fallback id.
func FallbackModule(id string) string {
	if !IsFallbackID(id) {
		return ""
	}
	return strings.TrimPrefix(id, fallbackPrefix)
}
