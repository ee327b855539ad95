// Package adapter holds the module-specific hooks the transition engine runs
// before persisting a transition, such as mirroring the workflow position
// into a module's own status field.
package adapter

import (
	"context"
	"sync"

	"github.com/pitabwire/cartable/model"
)

// Wildcard registers a hook for every module.
const Wildcard = "*"

// Transition describes a computed but not yet persisted state change.
// Hooks may modify Item; the engine persists whatever Item holds afterwards.
type Transition struct {
	Item       *model.CartableItem
	Definition model.WorkflowDefinition
	From       model.Step
	Action     model.Action
	// To is nil when Action is terminal.
	To    *model.Step
	Actor *model.RequestContext
}

// Terminal reports whether the transition closes the item.
func (t *Transition) Terminal() bool {
	return t.To == nil
}

// Hook reacts to a transition of an item in a module it is registered for.
type Hook interface {
	AfterTransition(ctx context.Context, t *Transition) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, t *Transition) error

// AfterTransition calls f.
func (f HookFunc) AfterTransition(ctx context.Context, t *Transition) error {
	return f(ctx, t)
}

// Registry maps module tags to hooks.
type Registry struct {
	mu    sync.RWMutex
	hooks map[string][]Hook
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string][]Hook)}
}

// Register adds a hook for a module, or for all modules with Wildcard.
func (r *Registry) Register(module string, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[module] = append(r.hooks[module], h)
}

// For returns the hooks that apply to a module: wildcard hooks first, then
// module hooks, each in registration order.
func (r *Registry) For(module string) []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Hook, 0, len(r.hooks[Wildcard])+len(r.hooks[module]))
	out = append(out, r.hooks[Wildcard]...)
	if module != Wildcard {
		out = append(out, r.hooks[module]...)
	}
	return out
}

// Run invokes every hook for the item's module and stops at the first error.
func (r *Registry) Run(ctx context.Context, t *Transition) error {
	for _, h := range r.For(t.Item.Module) {
		if err := h.AfterTransition(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
