package inbox

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/pitabwire/cartable/internal/cartable"
	"github.com/pitabwire/cartable/internal/observability"
	"github.com/pitabwire/cartable/model"
)

// Projection answers inbox queries over the item store. Reads never
// mutate; only MarkSeen writes.
type Projection struct {
	items   *cartable.Store
	policy  Policy
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewProjection creates a projection. metrics and logger may be nil.
func NewProjection(items *cartable.Store, policy Policy, metrics *observability.Metrics, logger *zap.Logger) *Projection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projection{items: items, policy: policy, metrics: metrics, logger: logger}
}

// Policy returns the visibility policy in use.
func (p *Projection) Policy() Policy {
	return p.policy
}

// MyCartable lists every pending item visible to user, newest first. The
// filter runs locally over all pending items.
func (p *Projection) MyCartable(ctx context.Context, user *model.RequestContext) ([]model.CartableItem, error) {
	p.metrics.RecordInboxQuery("cartable")

	pending, err := p.items.List(ctx, cartable.Filter{Status: model.ItemStatusPending})
	if err != nil {
		return nil, fmt.Errorf("inbox for %s: %w", user.SubjectID, err)
	}
	out := make([]model.CartableItem, 0, len(pending))
	for _, item := range pending {
		if p.policy.Visible(item, user) {
			out = append(out, item)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Unread lists visible pending items the user has not opened yet. Each
// visibility clause becomes its own store query; results are merged by id
// so an item matching several clauses appears once.
func (p *Projection) Unread(ctx context.Context, user *model.RequestContext) ([]model.CartableItem, error) {
	p.metrics.RecordInboxQuery("unread")

	filters := p.clauses(user)
	seen := make(map[string]struct{})
	var out []model.CartableItem
	for _, f := range filters {
		items, err := p.items.List(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("unread for %s: %w", user.SubjectID, err)
		}
		for _, item := range items {
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			if item.IsSeenBy(user.SubjectID) {
				continue
			}
			out = append(out, item)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// UnreadCount returns len(Unread).
func (p *Projection) UnreadCount(ctx context.Context, user *model.RequestContext) (int, error) {
	items, err := p.Unread(ctx, user)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// MarkSeen records that user opened the item. Repeated calls are no-ops.
func (p *Projection) MarkSeen(ctx context.Context, itemID string, user *model.RequestContext) (model.CartableItem, error) {
	before, err := p.items.Get(ctx, itemID)
	if err != nil {
		return model.CartableItem{}, err
	}
	if !p.policy.CanRead(before, user, model.CapabilitiesFrom(ctx)) {
		return model.CartableItem{}, model.NewForbiddenError(fmt.Sprintf("item %q is not assigned to %s", itemID, user.SubjectID))
	}
	if before.IsSeenBy(user.SubjectID) {
		return before, nil
	}
	item, err := p.items.MarkSeen(ctx, itemID, user.SubjectID)
	if err != nil {
		return model.CartableItem{}, err
	}
	p.metrics.RecordItemSeen()
	p.logger.Debug("item marked seen",
		zap.String("item_id", itemID),
		zap.String("subject_id", user.SubjectID),
		zap.Int64("revision", item.Revision),
	)
	return item, nil
}

// clauses builds one store filter per visibility rule of the policy.
func (p *Projection) clauses(user *model.RequestContext) []cartable.Filter {
	pending := model.ItemStatusPending
	filters := make([]cartable.Filter, 0, len(p.policy.BroadcastModules)+3)
	for _, module := range p.policy.BroadcastModules {
		filters = append(filters, cartable.Filter{Status: pending, Module: module})
	}
	if user.Role != "" {
		filters = append(filters, cartable.Filter{Status: pending, AssigneeRole: user.Role})
	}
	if user.SubjectID != "" {
		filters = append(filters,
			cartable.Filter{Status: pending, AssigneeRole: model.AssigneeInitiator, InitiatorID: user.SubjectID},
			cartable.Filter{Status: pending, AssigneeID: user.SubjectID},
		)
	}
	return filters
}

func sortNewestFirst(items []model.CartableItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID < items[j].ID
	})
}
