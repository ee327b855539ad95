// Package inbox projects cartable items into per-user inboxes.
package inbox

import (
	"slices"

	"github.com/pitabwire/cartable/model"
)

// Policy decides which pending items a user may see.
type Policy struct {
	// BroadcastModules are visible to every authenticated user.
	BroadcastModules []string
}

// Broadcast reports whether module is shown to everyone.
func (p Policy) Broadcast(module string) bool {
	return slices.Contains(p.BroadcastModules, module)
}

// Visible reports whether item belongs in user's inbox. Closed items are
// never visible.
func (p Policy) Visible(item model.CartableItem, user *model.RequestContext) bool {
	if item.Status != model.ItemStatusPending {
		return false
	}
	return p.Broadcast(item.Module) || item.AssignedTo(user)
}

// CanAct reports whether user may apply an action at the item's current
// step. Item status is not considered; closed items are rejected by the
// engine before access is checked.
func (p Policy) CanAct(item model.CartableItem, user *model.RequestContext, caps model.CapabilitySet) bool {
	if caps.Has(model.CapCartableActAny) {
		return true
	}
	return p.Broadcast(item.Module) || item.Responsible(user)
}

// CanRead reports whether user may open the item: whoever may act on it or
// would see it in their inbox, plus the initiator and earlier actors after
// the item moves on or closes.
func (p Policy) CanRead(item model.CartableItem, user *model.RequestContext, caps model.CapabilitySet) bool {
	return p.CanAct(item, user, caps) || item.AssignedTo(user) || item.Involves(user)
}
