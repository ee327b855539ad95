package definition

import (
	"fmt"

	"github.com/pitabwire/cartable/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

var validActionStyles = map[string]bool{
	"":                       true,
	model.ActionStylePrimary: true,
	model.ActionStyleSuccess: true,
	model.ActionStyleDanger:  true,
	model.ActionStyleNeutral: true,
}

var validStepTags = map[string]bool{
	"":                        true,
	model.StepTagRequest:      true,
	model.StepTagInProgress:   true,
	model.StepTagVerification: true,
	model.StepTagFinished:     true,
}

// Validator checks workflow definitions structurally and for graph
// integrity: every action must target an existing step or FINISH.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAll checks a batch of definitions and also rejects duplicate ids
// across the batch.
func (v *Validator) ValidateAll(defs []model.WorkflowDefinition) []VError {
	var errs []VError
	seen := make(map[string]int)
	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		if j, dup := seen[def.ID]; dup && def.ID != "" {
			errs = append(errs, VError{
				Path:    prefix + ".id",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("id %q already used by definitions[%d]", def.ID, j),
			})
		}
		seen[def.ID] = i
		errs = append(errs, v.validateWorkflow(prefix, def)...)
	}
	return errs
}

// Validate checks a single definition.
func (v *Validator) Validate(def model.WorkflowDefinition) []VError {
	return v.validateWorkflow("definition", def)
}

func (v *Validator) validateWorkflow(prefix string, w model.WorkflowDefinition) []VError {
	var errs []VError

	if w.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if w.Module == "" {
		errs = append(errs, VError{Path: prefix + ".module", Code: "REQUIRED", Message: "module is required"})
	}
	if w.Title == "" {
		errs = append(errs, VError{Path: prefix + ".title", Code: "REQUIRED", Message: "title is required"})
	}
	if len(w.Steps) == 0 {
		errs = append(errs, VError{Path: prefix + ".steps", Code: "REQUIRED", Message: "at least one step is required"})
	}

	stepIDs := make(map[string]bool)
	for i, s := range w.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)
		switch {
		case s.ID == "":
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "step id is required"})
		case s.ID == model.StepFinish:
			errs = append(errs, VError{Path: sp + ".id", Code: "RESERVED", Message: fmt.Sprintf("step id %q is reserved", model.StepFinish)})
		case stepIDs[s.ID]:
			errs = append(errs, VError{Path: sp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate step id %q", s.ID)})
		}
		stepIDs[s.ID] = true

		if s.AssigneeRole == "" {
			errs = append(errs, VError{Path: sp + ".assignee_role", Code: "REQUIRED", Message: "assignee_role is required"})
		}
		if !validStepTags[s.Tag] {
			errs = append(errs, VError{Path: sp + ".tag", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid step tag %q", s.Tag)})
		}
	}

	// Actions are checked after all step ids are known so forward
	// references resolve.
	for i, s := range w.Steps {
		actionIDs := make(map[string]bool)
		for j, a := range s.Actions {
			ap := fmt.Sprintf("%s.steps[%d].actions[%d]", prefix, i, j)
			if a.ID == "" {
				errs = append(errs, VError{Path: ap + ".id", Code: "REQUIRED", Message: "action id is required"})
			} else if actionIDs[a.ID] {
				errs = append(errs, VError{Path: ap + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate action id %q", a.ID)})
			}
			actionIDs[a.ID] = true

			if a.NextStepID == "" {
				errs = append(errs, VError{Path: ap + ".next_step_id", Code: "REQUIRED", Message: "next_step_id is required"})
			} else if a.NextStepID != model.StepFinish && !stepIDs[a.NextStepID] {
				errs = append(errs, VError{
					Path:    ap + ".next_step_id",
					Code:    "REF_NOT_FOUND",
					Message: fmt.Sprintf("next step %q not found in steps", a.NextStepID),
				})
			}
			if !validActionStyles[a.Style] {
				errs = append(errs, VError{Path: ap + ".style", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid action style %q", a.Style)})
			}
		}
	}

	return errs
}

// AsError converts validation errors into a VALIDATION_ERROR envelope, or
// nil when errs is empty.
func AsError(errs []VError) error {
	if len(errs) == 0 {
		return nil
	}
	details := make([]model.FieldError, len(errs))
	for i, e := range errs {
		details[i] = model.FieldError{Field: e.Path, Code: e.Code, Message: e.Message}
	}
	return model.NewValidationError(details)
}
