// Package cartable persists cartable items, the live workflow instances
// that double as inbox entries.
package cartable

import (
	"context"
	"fmt"

	"github.com/pitabwire/cartable/internal/record"
	"github.com/pitabwire/cartable/model"
)

// markSeenAttempts bounds the compare-and-swap retries of MarkSeen.
const markSeenAttempts = 5

// Filter narrows List results. Empty fields are ignored.
type Filter struct {
	Module       string
	Status       string
	WorkflowID   string
	AssigneeRole string
	AssigneeID   string
	InitiatorID  string
}

func (f Filter) record() record.Filter {
	out := record.Filter{}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("module", f.Module)
	set("status", f.Status)
	set("workflow_id", f.WorkflowID)
	set("assignee_role", f.AssigneeRole)
	set("assignee_id", f.AssigneeID)
	set("initiator_id", f.InitiatorID)
	return out
}

// Store reads and writes cartable items with revision checks.
type Store struct {
	records record.Store
}

// NewStore creates an item store over the given record store.
func NewStore(records record.Store) *Store {
	return &Store{records: records}
}

// Create inserts a new item. The stored revision is returned on the item.
func (s *Store) Create(ctx context.Context, item model.CartableItem) (model.CartableItem, error) {
	fields, err := record.Encode(item)
	if err != nil {
		return model.CartableItem{}, err
	}
	rec, err := s.records.Insert(ctx, record.CollectionItems, record.Record{ID: item.ID, Fields: fields})
	if err != nil {
		return model.CartableItem{}, fmt.Errorf("insert item %q: %w", item.ID, err)
	}
	return decode(rec)
}

// Get returns an item or a NOT_FOUND error.
func (s *Store) Get(ctx context.Context, id string) (model.CartableItem, error) {
	rec, err := s.records.Get(ctx, record.CollectionItems, id)
	if err != nil {
		return model.CartableItem{}, err
	}
	return decode(rec)
}

// List returns items matching the filter.
func (s *Store) List(ctx context.Context, filter Filter) ([]model.CartableItem, error) {
	recs, err := s.records.List(ctx, record.CollectionItems, filter.record())
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	items := make([]model.CartableItem, 0, len(recs))
	for _, rec := range recs {
		item, err := decode(rec)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Update writes the whole item as one patch, guarded by item.Revision.
// A concurrent writer causes a CONFLICT error and nothing is written.
func (s *Store) Update(ctx context.Context, item model.CartableItem) (model.CartableItem, error) {
	fields, err := record.Encode(item)
	if err != nil {
		return model.CartableItem{}, err
	}
	delete(fields, "revision")
	// Patches merge, so a cleared assignee must be written explicitly.
	fields["assignee_id"] = item.AssigneeID
	rec, err := s.records.Update(ctx, record.CollectionItems, item.ID, fields, item.Revision)
	if err != nil {
		return model.CartableItem{}, fmt.Errorf("update item %q: %w", item.ID, err)
	}
	return decode(rec)
}

// MarkSeen adds userID to the item's seen set. It is idempotent: an item
// already seen by the user is returned unchanged without a write. Revision
// conflicts are retried on a fresh read since set union commutes.
func (s *Store) MarkSeen(ctx context.Context, itemID, userID string) (model.CartableItem, error) {
	var lastErr error
	for range markSeenAttempts {
		item, err := s.Get(ctx, itemID)
		if err != nil {
			return model.CartableItem{}, err
		}
		if !item.AddSeenBy(userID) {
			return item, nil
		}
		updated, err := s.records.Update(ctx, record.CollectionItems, itemID,
			map[string]any{"data": item.Data}, item.Revision)
		if err == nil {
			return decode(updated)
		}
		if !model.IsCode(err, model.ErrConflict) {
			return model.CartableItem{}, fmt.Errorf("mark item %q seen: %w", itemID, err)
		}
		lastErr = err
	}
	return model.CartableItem{}, fmt.Errorf("mark item %q seen: %w", itemID, lastErr)
}

func decode(rec record.Record) (model.CartableItem, error) {
	var item model.CartableItem
	if err := record.Decode(rec.Fields, &item); err != nil {
		return model.CartableItem{}, err
	}
	item.ID = rec.ID
	item.Revision = rec.Revision
	return item, nil
}
