package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lowenmark/crownfall/internal/game/action"
)

var (
	// ErrTypeRequired indicates a registration without a type tag.
	ErrTypeRequired = errors.New("action type is required")
	// ErrResolverRequired indicates a registration without a resolve function.
	ErrResolverRequired = errors.New("resolve function is required")
	// ErrAlreadyRegistered indicates a duplicate type registration.
	ErrAlreadyRegistered = errors.New("action type already registered")
)

// ResolveFunc performs an action's maturation logic. The handler must leave
// the action either deleted or in a valid continuing state before returning.
type ResolveFunc func(ctx context.Context, act *action.Action) error

// UpdateFunc re-evaluates an action's timing or validity before maturity.
type UpdateFunc func(ctx context.Context, act *action.Action) error

// Handler binds an action type's resolution behavior.
type Handler struct {
	Resolve ResolveFunc
	// Update is optional; types without one are no-ops in the update pass.
	Update UpdateFunc
	// NeverImmediate marks handlers that cannot run synchronously at
	// enqueue time, such as battle companions whose side effects assume
	// the scheduler context.
	NeverImmediate bool
}

// Registry maps normalized action type tags to handlers. Registration is
// static: the engine registers every handler at construction and the set
// never changes afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[action.Type]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[action.Type]Handler)}
}

// Register adds a handler for the given type.
func (r *Registry) Register(t action.Type, h Handler) error {
	tag := action.Normalize(t)
	if tag == "" {
		return ErrTypeRequired
	}
	if h.Resolve == nil {
		return fmt.Errorf("%w: %s", ErrResolverRequired, tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[tag]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, tag)
	}
	r.handlers[tag] = h
	return nil
}

// Lookup returns the handler for the given type tag.
func (r *Registry) Lookup(t action.Type) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[action.Normalize(t)]
	return h, ok
}

// Types returns every registered type tag, sorted.
func (r *Registry) Types() []action.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]action.Type, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
