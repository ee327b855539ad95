package model

import "time"

// Sentinels used inside workflow definitions.
const (
	// AssigneeInitiator binds a step to whoever created the instance.
	AssigneeInitiator = "INITIATOR"
	// StepFinish is the terminal nextStepId. It never names a real step.
	StepFinish = "FINISH"
)

// Action styles. They drive rendering only; the engine treats all actions
// alike.
const (
	ActionStylePrimary = "primary"
	ActionStyleSuccess = "success"
	ActionStyleDanger  = "danger"
	ActionStyleNeutral = "neutral"
)

// Step tags give steps a stable semantic key that status mirroring can rely
// on instead of the translatable display title.
const (
	StepTagRequest      = "REQUEST"
	StepTagInProgress   = "IN_PROGRESS"
	StepTagVerification = "VERIFICATION"
	StepTagFinished     = "FINISHED"
)

// WorkflowDefinition is a module's state machine: an ordered list of steps,
// each offering named actions that route to another step or to FINISH.
type WorkflowDefinition struct {
	ID        string    `yaml:"id"        json:"id"`
	Module    string    `yaml:"module"    json:"module"`
	Title     string    `yaml:"title"     json:"title"`
	IsActive  bool      `yaml:"is_active" json:"is_active"`
	Steps     []Step    `yaml:"steps"     json:"steps"`
	CreatedAt time.Time `yaml:"-"         json:"created_at"`
	UpdatedAt time.Time `yaml:"-"         json:"updated_at"`
}

// Step is a single state of a workflow.
type Step struct {
	ID           string   `yaml:"id"            json:"id"`
	Title        string   `yaml:"title"         json:"title"`
	AssigneeRole string   `yaml:"assignee_role" json:"assignee_role"`
	Tag          string   `yaml:"tag"           json:"tag,omitempty"`
	Actions      []Action `yaml:"actions"       json:"actions"`
}

// Action is a named transition out of a step.
type Action struct {
	ID         string `yaml:"id"           json:"id"`
	Label      string `yaml:"label"        json:"label"`
	NextStepID string `yaml:"next_step_id" json:"next_step_id"`
	Style      string `yaml:"style"        json:"style,omitempty"`
}

// IsTerminal reports whether the action closes the instance.
func (a Action) IsTerminal() bool {
	return a.NextStepID == StepFinish
}

// FirstStep returns the entry step, or nil for a definition without steps.
func (d *WorkflowDefinition) FirstStep() *Step {
	if len(d.Steps) == 0 {
		return nil
	}
	return &d.Steps[0]
}

// FindStep returns the step with the given id, or nil.
func (d *WorkflowDefinition) FindStep(id string) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// FindAction returns the action with the given id, or nil.
func (s *Step) FindAction(id string) *Action {
	for i := range s.Actions {
		if s.Actions[i].ID == id {
			return &s.Actions[i]
		}
	}
	return nil
}

// PrimaryAction returns the step's happy-path action: the first primary
// action, else the first success action. It returns nil when neither exists.
func PrimaryAction(s *Step) *Action {
	for _, style := range []string{ActionStylePrimary, ActionStyleSuccess} {
		for i := range s.Actions {
			if s.Actions[i].Style == style {
				return &s.Actions[i]
			}
		}
	}
	return nil
}
