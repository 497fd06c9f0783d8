package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/rcmflow/internal/ir"
)

// ActionHandler executes one action type.
//
// Handlers return an optional result payload, or an error to mark the
// action failed. Handlers may mutate ec.Entity; they run one at a time per
// context. ctx carries the per-action deadline and the rule being executed
// (see RuleFromContext).
type ActionHandler interface {
	Execute(ctx context.Context, action ir.RuleAction, ec *ir.ExecutionContext) (ir.Value, error)
}

// HandlerFunc adapts a function to the ActionHandler interface.
type HandlerFunc func(ctx context.Context, action ir.RuleAction, ec *ir.ExecutionContext) (ir.Value, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, action ir.RuleAction, ec *ir.ExecutionContext) (ir.Value, error) {
	return f(ctx, action, ec)
}

// Registry maps action types to handlers.
//
// Handlers are registered during initialization. Building an Engine from a
// registry freezes it: later Register calls fail with ErrRegistryFrozen, so
// dispatch never races with registration.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[ir.ActionType]ActionHandler
	frozen   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[ir.ActionType]ActionHandler)}
}

// Register adds or replaces the handler for actionType.
func (r *Registry) Register(actionType ir.ActionType, h ActionHandler) error {
	if actionType == "" {
		return fmt.Errorf("register: empty action type")
	}
	if h == nil {
		return fmt.Errorf("register %q: nil handler", actionType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %q: %w", actionType, ErrRegistryFrozen)
	}
	r.handlers[actionType] = h
	return nil
}

// RegisterFunc is Register for a plain function.
func (r *Registry) RegisterFunc(actionType ir.ActionType, f HandlerFunc) error {
	return r.Register(actionType, f)
}

// MustRegister is like Register but panics on error.
// Use only during program initialization.
func (r *Registry) MustRegister(actionType ir.ActionType, h ActionHandler) {
	if err := r.Register(actionType, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for actionType.
func (r *Registry) Lookup(actionType ir.ActionType) (ActionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[actionType]
	return h, ok
}

// Has reports whether actionType has a handler.
func (r *Registry) Has(actionType ir.ActionType) bool {
	_, ok := r.Lookup(actionType)
	return ok
}

// Types returns the registered action types in sorted order.
func (r *Registry) Types() []ir.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]ir.ActionType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Frozen reports whether the registry rejects further registration.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// registerDefault adds h unless actionType already has a handler, so hosts
// can override built-ins by registering first.
func (r *Registry) registerDefault(actionType ir.ActionType, h ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return
	}
	if _, exists := r.handlers[actionType]; !exists {
		r.handlers[actionType] = h
	}
}

func (r *Registry) freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}
