// Package record is the boundary to the hosted record store: a generic
// collection/document API (list by filter, get, insert, patch) with a
// per-record revision used for compare-and-swap updates.
package record

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"

	"github.com/pitabwire/cartable/model"
)

// Collections used by the service.
const (
	CollectionDefinitions = "workflow_definitions"
	CollectionItems       = "cartable_items"
)

// Record is one stored document. Fields hold JSON-compatible values only.
type Record struct {
	ID       string         `json:"id"`
	Revision int64          `json:"revision"`
	Fields   map[string]any `json:"fields"`
}

// Filter selects records whose top-level fields equal every given value.
// An empty filter matches everything.
type Filter map[string]any

// Match reports whether fields satisfy the filter.
func (f Filter) Match(fields map[string]any) bool {
	for k, want := range f {
		got, ok := fields[k]
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	return true
}

// Store is the generic record store every backend implements.
type Store interface {
	// List returns the records of a collection matching filter, ordered by id.
	List(ctx context.Context, collection string, filter Filter) ([]Record, error)

	// Get returns a record or a NOT_FOUND error.
	Get(ctx context.Context, collection, id string) (Record, error)

	// Insert stores a new record at revision 1. A duplicate id is a CONFLICT.
	Insert(ctx context.Context, collection string, rec Record) (Record, error)

	// Update merges patch into the record's top-level fields if the stored
	// revision equals revision, then increments the revision. A stale
	// revision is a CONFLICT; a missing record is NOT_FOUND.
	Update(ctx context.Context, collection, id string, patch map[string]any, revision int64) (Record, error)
}

// Encode converts v into JSON-compatible record fields. Numbers are kept
// as json.Number so integers beyond float64 precision survive.
func Encode(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var fields map[string]any
	if err := unmarshalFields(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return fields, nil
}

// Decode converts record fields into out. Numbers inside untyped values
// such as map[string]any decode as json.Number.
func Decode(fields map[string]any, out any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if err := unmarshalFields(raw, out); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// unmarshalFields decodes stored JSON with numbers as json.Number. Every
// backend reads through it so all of them hand back identical types.
func unmarshalFields(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

// normalize returns a deep copy of fields with every value reduced to the
// shapes unmarshalFields produces.
func normalize(fields map[string]any) (map[string]any, error) {
	if fields == nil {
		return map[string]any{}, nil
	}
	return Encode(fields)
}

func merge(fields, patch map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+len(patch))
	maps.Copy(out, fields)
	maps.Copy(out, patch)
	return out
}

func equalValue(got, want any) bool {
	if g, ok := toNumber(got); ok {
		if w, ok := toNumber(want); ok {
			return g.equal(w)
		}
	}
	return reflect.DeepEqual(got, want)
}

// number is a filter operand. Integers compare exactly; anything else
// compares as float64.
type number struct {
	i     int64
	f     float64
	isInt bool
}

func (a number) equal(b number) bool {
	if a.isInt && b.isInt {
		return a.i == b.i
	}
	return a.f == b.f
}

func toNumber(v any) (number, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return number{i: i, f: float64(i), isInt: true}, true
		}
		f, err := n.Float64()
		return number{f: f}, err == nil
	case int:
		return number{i: int64(n), f: float64(n), isInt: true}, true
	case int32:
		return number{i: int64(n), f: float64(n), isInt: true}, true
	case int64:
		return number{i: n, f: float64(n), isInt: true}, true
	case float32:
		return number{f: float64(n)}, true
	case float64:
		return number{f: n}, true
	default:
		return number{}, false
	}
}

func notFound(collection, id string) error {
	return model.NewNotFoundError(fmt.Sprintf("%s record %q not found", collection, id))
}

func duplicate(collection, id string) error {
	return model.NewConflictError(fmt.Sprintf("%s record %q already exists", collection, id))
}

func conflict(collection, id string, want, got int64) error {
	return model.NewConflictError(
		fmt.Sprintf("%s record %q revision conflict (expected %d, got %d)", collection, id, want, got),
	)
}

// unavailable marks a backend failure as a retryable STORE_UNAVAILABLE
// error while keeping the driver error in the chain.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, errors.Join(model.NewStoreUnavailableError(), err))
}
