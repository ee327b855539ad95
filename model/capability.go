package model

import (
	"context"
	"strings"
)

// Capabilities checked by the service.
const (
	CapDefinitionsManage = "definitions:manage"
	CapCartableExport    = "cartable:export"
	// CapCartableActAny reads and acts on items regardless of assignment.
	CapCartableActAny = "cartable:act_any"
)

// CapabilitySet is a set of capabilities granted to a user. Each key is a
// capability string (e.g. "definitions:manage") and may include wildcards
// (e.g. "definitions:*").
type CapabilitySet map[string]bool

// Has returns true if the set contains the exact capability or a wildcard
// that matches it.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAll returns true if the set matches all given capabilities.
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, cap := range caps {
		if !cs.Has(cap) {
			return false
		}
	}
	return true
}

// matchWildcard returns true if pattern (which may end in "*") matches cap.
//
//	"*"               matches anything
//	"definitions:*"   matches "definitions:manage"
//	"definitions"     does NOT match "definitions:manage"
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	prefix := pattern[:len(pattern)-1]
	return strings.HasPrefix(cap, prefix)
}

// CapabilityResolver resolves the capability set for a request context.
type CapabilityResolver interface {
	Resolve(rctx *RequestContext) (CapabilitySet, error)
	Invalidate(subjectID string)
}

// PolicyEvaluator maps a user's role to capabilities.
type PolicyEvaluator interface {
	ResolveCapabilities(rctx *RequestContext) (CapabilitySet, error)
	Sync() error
}

type capabilitiesKey struct{}

// WithCapabilities attaches the caller's resolved capabilities.
func WithCapabilities(ctx context.Context, caps CapabilitySet) context.Context {
	return context.WithValue(ctx, capabilitiesKey{}, caps)
}

// CapabilitiesFrom returns the caller's resolved capabilities, or nil.
func CapabilitiesFrom(ctx context.Context) CapabilitySet {
	caps, _ := ctx.Value(capabilitiesKey{}).(CapabilitySet)
	return caps
}
