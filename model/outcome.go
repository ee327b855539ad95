package model

import "fmt"

// OutcomeKind discriminates the result of processing an action.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeApplied            OutcomeKind = "APPLIED"
	OutcomeItemNotFound       OutcomeKind = OutcomeKind(ErrItemNotFound)
	OutcomeDefinitionNotFound OutcomeKind = OutcomeKind(ErrDefinitionNotFound)
	OutcomeStepNotFound       OutcomeKind = OutcomeKind(ErrStepNotFound)
	OutcomeActionNotFound     OutcomeKind = OutcomeKind(ErrActionNotFound)
	OutcomeDanglingTarget     OutcomeKind = OutcomeKind(ErrDanglingTarget)
	OutcomeItemClosed         OutcomeKind = OutcomeKind(ErrItemClosed)
	OutcomeForbidden          OutcomeKind = OutcomeKind(ErrForbidden)
)

// Outcome is the result of Engine.ProcessAction. Item is set for APPLIED
// (the persisted item) and for kinds where the item could be loaded.
type Outcome struct {
	Kind     OutcomeKind   `json:"kind"`
	Item     *CartableItem `json:"item,omitempty"`
	Terminal bool          `json:"terminal,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// Applied reports whether the transition was persisted.
func (o Outcome) Applied() bool {
	return o.Kind == OutcomeApplied
}

// Err converts a non-applied outcome into an error envelope. It returns nil
// for APPLIED.
func (o Outcome) Err() error {
	if o.Applied() {
		return nil
	}
	return &ErrorEnvelope{Code: string(o.Kind), Message: o.Message}
}

// Rejected builds a non-applied outcome with a formatted message.
func Rejected(kind OutcomeKind, item *CartableItem, format string, args ...any) Outcome {
	return Outcome{Kind: kind, Item: item, Message: fmt.Sprintf(format, args...)}
}
