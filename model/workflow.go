package model

import (
	"slices"
	"time"
)

// Cartable item status constants. DONE is permanent.
const (
	ItemStatusPending = "PENDING"
	ItemStatusDone    = "DONE"
)

// Reserved keys inside CartableItem.Data.
const (
	DataKeySeenBy = "seen_by"
	DataKeyStatus = "status"
)

// Mirrored business statuses written into Data["status"].
const (
	MirrorStatusRequest      = "REQUEST"
	MirrorStatusInProgress   = "IN_PROGRESS"
	MirrorStatusVerification = "VERIFICATION"
	MirrorStatusFinished     = "FINISHED"
)

// CartableItem is a live workflow instance and the inbox entry it shows up as.
type CartableItem struct {
	ID            string         `json:"id"`
	WorkflowID    string         `json:"workflow_id"`
	TrackingCode  string         `json:"tracking_code"`
	Module        string         `json:"module"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	CurrentStepID string         `json:"current_step_id"`
	InitiatorID   string         `json:"initiator_id"`
	InitiatorRole string         `json:"initiator_role"`
	AssigneeRole  string         `json:"assignee_role"`
	AssigneeID    string         `json:"assignee_id,omitempty"`
	Status        string         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Data          map[string]any `json:"data"`
	History       []HistoryEntry `json:"history,omitempty"`
	Revision      int64          `json:"revision"`
}

// HistoryEntry records one applied action, including the actor's comment.
type HistoryEntry struct {
	StepID    string    `json:"step_id"`
	ActionID  string    `json:"action_id"`
	ToStepID  string    `json:"to_step_id"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
	Comment   string    `json:"comment,omitempty"`
	At        time.Time `json:"at"`
}

// IsDone reports whether the item has been closed.
func (c *CartableItem) IsDone() bool {
	return c.Status == ItemStatusDone
}

// AssignedTo reports whether user holds the item's current assignment: the
// assignee role, the assigned user id, or the initiator of an
// initiator-owned step.
func (c *CartableItem) AssignedTo(user *RequestContext) bool {
	switch {
	case user == nil:
		return false
	case user.HasRole(c.AssigneeRole):
		return true
	case c.AssigneeRole == AssigneeInitiator && c.InitiatorID != "" && c.InitiatorID == user.SubjectID:
		return true
	case c.AssigneeID != "" && c.AssigneeID == user.SubjectID:
		return true
	}
	return false
}

// Responsible reports whether user is the one expected to act at the
// current step. A specific assignee id overrides the role.
func (c *CartableItem) Responsible(user *RequestContext) bool {
	switch {
	case user == nil:
		return false
	case c.AssigneeID != "":
		return c.AssigneeID == user.SubjectID
	case c.AssigneeRole == AssigneeInitiator:
		return c.InitiatorID != "" && c.InitiatorID == user.SubjectID
	}
	return user.HasRole(c.AssigneeRole)
}

// Involves reports whether user started the item or acted on it.
func (c *CartableItem) Involves(user *RequestContext) bool {
	if user == nil || user.SubjectID == "" {
		return false
	}
	if c.InitiatorID == user.SubjectID {
		return true
	}
	for _, h := range c.History {
		if h.ActorID == user.SubjectID {
			return true
		}
	}
	return false
}

// SeenBy returns the user ids recorded in Data["seen_by"]. Values decoded
// from JSON arrive as []any, so both shapes are accepted.
func (c *CartableItem) SeenBy() []string {
	switch v := c.Data[DataKeySeenBy].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// IsSeenBy reports whether userID is in the seen set.
func (c *CartableItem) IsSeenBy(userID string) bool {
	return slices.Contains(c.SeenBy(), userID)
}

// AddSeenBy adds userID to the seen set. It returns false when the user was
// already present and Data was left untouched.
func (c *CartableItem) AddSeenBy(userID string) bool {
	seen := c.SeenBy()
	if slices.Contains(seen, userID) {
		return false
	}
	if c.Data == nil {
		c.Data = map[string]any{}
	}
	c.Data[DataKeySeenBy] = append(slices.Clone(seen), userID)
	return true
}

// MirroredStatus returns Data["status"] and whether it is set.
func (c *CartableItem) MirroredStatus() (string, bool) {
	s, ok := c.Data[DataKeyStatus].(string)
	return s, ok
}
