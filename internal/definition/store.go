package definition

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/pitabwire/cartable/internal/adapter"
	"github.com/pitabwire/cartable/internal/record"
	"github.com/pitabwire/cartable/model"
)

// Store persists workflow definitions in the record store. Save validates
// the definition graph before writing.
type Store struct {
	records   record.Store
	validator *Validator
	now       func() time.Time
}

// NewStore creates a definition store over the given record store.
func NewStore(records record.Store) *Store {
	return &Store{
		records:   records,
		validator: NewValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns all definitions ordered by id.
func (s *Store) List(ctx context.Context) ([]model.WorkflowDefinition, error) {
	recs, err := s.records.List(ctx, record.CollectionDefinitions, nil)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	return decodeAll(recs)
}

// Get returns the definition with the given id. Fallback ids resolve to the
// synthesized fallback definition without touching the store.
func (s *Store) Get(ctx context.Context, id string) (model.WorkflowDefinition, error) {
	if IsFallbackID(id) {
		return Fallback(FallbackModule(id)), nil
	}
	rec, err := s.records.Get(ctx, record.CollectionDefinitions, id)
	if err != nil {
		return model.WorkflowDefinition{}, err
	}
	var def model.WorkflowDefinition
	if err := record.Decode(rec.Fields, &def); err != nil {
		return model.WorkflowDefinition{}, err
	}
	return def, nil
}

// Active returns the active definition of a module. When several are
// flagged active the most recently updated one wins.
func (s *Store) Active(ctx context.Context, module string) (model.WorkflowDefinition, bool, error) {
	recs, err := s.records.List(ctx, record.CollectionDefinitions, record.Filter{
		"module":    module,
		"is_active": true,
	})
	if err != nil {
		return model.WorkflowDefinition{}, false, fmt.Errorf("list active definitions: %w", err)
	}
	defs, err := decodeAll(recs)
	if err != nil {
		return model.WorkflowDefinition{}, false, err
	}
	if len(defs) == 0 {
		return model.WorkflowDefinition{}, false, nil
	}
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].UpdatedAt.After(defs[j].UpdatedAt) })
	return defs[0], true, nil
}

// Validate runs the graph validator without saving.
func (s *Store) Validate(def model.WorkflowDefinition) []VError {
	return s.validator.Validate(def)
}

// Save upserts a definition by id. Untagged steps with legacy titles are
// tagged first. Invalid definitions are rejected with a VALIDATION_ERROR.
// Saving an active definition deactivates the module's other active
// definitions.
func (s *Store) Save(ctx context.Context, def model.WorkflowDefinition) (model.WorkflowDefinition, error) {
	if IsFallbackID(def.ID) {
		return model.WorkflowDefinition{}, model.NewBadRequestError(fmt.Sprintf("definition id %q is reserved", def.ID))
	}
	def.Steps = slices.Clone(def.Steps)
	adapter.InferTags(&def)
	if err := AsError(s.validator.Validate(def)); err != nil {
		return model.WorkflowDefinition{}, err
	}

	now := s.now()
	def.UpdatedAt = now

	existing, err := s.records.Get(ctx, record.CollectionDefinitions, def.ID)
	switch {
	case err == nil:
		var prev model.WorkflowDefinition
		if err := record.Decode(existing.Fields, &prev); err != nil {
			return model.WorkflowDefinition{}, err
		}
		def.CreatedAt = prev.CreatedAt
		fields, err := record.Encode(def)
		if err != nil {
			return model.WorkflowDefinition{}, err
		}
		if _, err := s.records.Update(ctx, record.CollectionDefinitions, def.ID, fields, existing.Revision); err != nil {
			return model.WorkflowDefinition{}, fmt.Errorf("update definition %q: %w", def.ID, err)
		}
	case model.IsCode(err, model.ErrNotFound):
		def.CreatedAt = now
		fields, err := record.Encode(def)
		if err != nil {
			return model.WorkflowDefinition{}, err
		}
		if _, err := s.records.Insert(ctx, record.CollectionDefinitions, record.Record{ID: def.ID, Fields: fields}); err != nil {
			return model.WorkflowDefinition{}, fmt.Errorf("insert definition %q: %w", def.ID, err)
		}
	default:
		return model.WorkflowDefinition{}, fmt.Errorf("get definition %q: %w", def.ID, err)
	}

	if def.IsActive {
		if err := s.deactivateOthers(ctx, def); err != nil {
			return model.WorkflowDefinition{}, err
		}
	}
	return def, nil
}

func (s *Store) deactivateOthers(ctx context.Context, keep model.WorkflowDefinition) error {
	recs, err := s.records.List(ctx, record.CollectionDefinitions, record.Filter{
		"module":    keep.Module,
		"is_active": true,
	})
	if err != nil {
		return fmt.Errorf("list active definitions: %w", err)
	}
	for _, rec := range recs {
		if rec.ID == keep.ID {
			continue
		}
		patch := map[string]any{"is_active": false, "updated_at": s.now()}
		if _, err := s.records.Update(ctx, record.CollectionDefinitions, rec.ID, patch, rec.Revision); err != nil {
			return fmt.Errorf("deactivate definition %q: %w", rec.ID, err)
		}
	}
	return nil
}

func decodeAll(recs []record.Record) ([]model.WorkflowDefinition, error) {
	defs := make([]model.WorkflowDefinition, 0, len(recs))
	for _, rec := range recs {
		var def model.WorkflowDefinition
		if err := record.Decode(rec.Fields, &def); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
