package record

import (
	"context"
	"sort"
	"sync"

	"github.com/pitabwire/cartable/model"
)

// MemoryStore is an in-memory Store used for tests and single-process runs.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record // collection -> id -> record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Record)}
}

// List returns matching records ordered by id.
func (s *MemoryStore) List(_ context.Context, collection string, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, rec := range s.collections[collection] {
		if filter.Match(rec.Fields) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns a copy of the record.
func (s *MemoryStore) Get(_ context.Context, collection, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.collections[collection][id]
	if !ok {
		return Record{}, notFound(collection, id)
	}
	return cloneRecord(rec), nil
}

// Insert stores a new record at revision 1.
func (s *MemoryStore) Insert(_ context.Context, collection string, rec Record) (Record, error) {
	if rec.ID == "" {
		return Record{}, model.NewBadRequestError("record id is required")
	}
	fields, err := normalize(rec.Fields)
	if err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]Record)
		s.collections[collection] = coll
	}
	if _, exists := coll[rec.ID]; exists {
		return Record{}, duplicate(collection, rec.ID)
	}

	stored := Record{ID: rec.ID, Revision: 1, Fields: fields}
	coll[rec.ID] = stored
	return cloneRecord(stored), nil
}

// Update merges patch under a revision check.
func (s *MemoryStore) Update(_ context.Context, collection, id string, patch map[string]any, revision int64) (Record, error) {
	normalized, err := normalize(patch)
	if err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.collections[collection][id]
	if !ok {
		return Record{}, notFound(collection, id)
	}
	if existing.Revision != revision {
		return Record{}, conflict(collection, id, revision, existing.Revision)
	}

	stored := Record{
		ID:       id,
		Revision: existing.Revision + 1,
		Fields:   merge(existing.Fields, normalized),
	}
	s.collections[collection][id] = stored
	return cloneRecord(stored), nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Len returns the number of records in a collection. For testing.
func (s *MemoryStore) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// cloneRecord copies the record so callers cannot mutate stored state.
// Stored fields are already normalized, so the round trip cannot fail.
func cloneRecord(rec Record) Record {
	fields, _ := normalize(rec.Fields)
	return Record{ID: rec.ID, Revision: rec.Revision, Fields: fields}
}
