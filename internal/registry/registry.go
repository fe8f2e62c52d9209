// Package registry holds every capability the agent was booted with,
// keyed by (kind, name). Registration happens once at startup; after
// that the registry is read-heavy and reads never block each other.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"reverie/internal/logging"
	"reverie/internal/plugin"
)

var (
	// ErrDuplicate reports a second registration for the same (kind, name).
	ErrDuplicate = errors.New("capability already registered")

	// ErrMissingDependency reports a registration whose declared
	// dependency is absent. Startup halts on this.
	ErrMissingDependency = errors.New("missing capability dependency")

	// ErrNotFound reports a resolve miss.
	ErrNotFound = errors.New("capability not found")
)

// Ref names a capability by kind and name.
type Ref struct {
	Kind plugin.Kind
	Name string
}

func (r Ref) String() string { return string(r.Kind) + "/" + r.Name }

// Registration describes one capability being added to the registry.
type Registration struct {
	Kind     plugin.Kind
	Name     string
	Impl     any
	Requires []Ref // must already be registered
	Replace  bool  // overwrite an existing registration instead of erroring
}

// Registry is the capability table.
type Registry struct {
	mu    sync.RWMutex
	caps  map[Ref]any
	order map[plugin.Kind][]string // declaration order per kind
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		caps:  make(map[Ref]any),
		order: make(map[plugin.Kind][]string),
	}
}

// Register adds a capability. The implementation must satisfy the
// contract for its kind, every declared dependency must already be
// present, and the (kind, name) pair must be free unless Replace is set.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return fmt.Errorf("registry: capability name is required")
	}
	if reg.Impl == nil {
		return fmt.Errorf("registry: %s/%s has no implementation", reg.Kind, reg.Name)
	}
	if !satisfies(reg.Kind, reg.Impl) {
		return fmt.Errorf("registry: %s/%s does not satisfy the %s contract", reg.Kind, reg.Name, reg.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := Ref{Kind: reg.Kind, Name: reg.Name}
	_, exists := r.caps[key]
	if exists && !reg.Replace {
		return fmt.Errorf("%s: %w", key, ErrDuplicate)
	}

	for _, dep := range reg.Requires {
		if _, ok := r.caps[dep]; !ok {
			return fmt.Errorf("%s requires %s: %w", key, dep, ErrMissingDependency)
		}
	}

	r.caps[key] = reg.Impl
	if !exists {
		r.order[reg.Kind] = append(r.order[reg.Kind], reg.Name)
	}

	if reg.Replace && exists {
		logging.Registry("Replaced capability %s", key)
	} else {
		logging.RegistryDebug("Registered capability %s (deps=%d)", key, len(reg.Requires))
	}
	return nil
}

// Resolve returns the raw implementation for (kind, name).
func (r *Registry) Resolve(kind plugin.Kind, name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	impl, ok := r.caps[Ref{Kind: kind, Name: name}]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", kind, name, ErrNotFound)
	}
	return impl, nil
}

// List returns the names registered under a kind, in declaration order.
func (r *Registry) List(kind plugin.Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order[kind]))
	copy(names, r.order[kind])
	return names
}

// Len reports the total number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps)
}

// =============================================================================
// TYPED ACCESSORS
// =============================================================================

// Action resolves a registered action by name.
func (r *Registry) Action(name string) (plugin.Action, error) {
	impl, err := r.Resolve(plugin.KindAction, name)
	if err != nil {
		return nil, err
	}
	return impl.(plugin.Action), nil
}

// Provider resolves a registered provider by name.
func (r *Registry) Provider(name string) (plugin.Provider, error) {
	impl, err := r.Resolve(plugin.KindProvider, name)
	if err != nil {
		return nil, err
	}
	return impl.(plugin.Provider), nil
}

// Evaluator resolves a registered evaluator by name.
func (r *Registry) Evaluator(name string) (plugin.Evaluator, error) {
	impl, err := r.Resolve(plugin.KindEvaluator, name)
	if err != nil {
		return nil, err
	}
	return impl.(plugin.Evaluator), nil
}

// Service resolves a registered service by name.
func (r *Registry) Service(name string) (plugin.Service, error) {
	impl, err := r.Resolve(plugin.KindService, name)
	if err != nil {
		return nil, err
	}
	return impl.(plugin.Service), nil
}

// Worker resolves a registered worker by name.
func (r *Registry) Worker(name string) (plugin.Worker, error) {
	impl, err := r.Resolve(plugin.KindWorker, name)
	if err != nil {
		return nil, err
	}
	return impl.(plugin.Worker), nil
}

// Providers returns all registered providers in declaration order.
func (r *Registry) Providers() []plugin.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]plugin.Provider, 0, len(r.order[plugin.KindProvider]))
	for _, name := range r.order[plugin.KindProvider] {
		out = append(out, r.caps[Ref{Kind: plugin.KindProvider, Name: name}].(plugin.Provider))
	}
	return out
}

// Evaluators returns all registered evaluators in declaration order.
func (r *Registry) Evaluators() []plugin.Evaluator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]plugin.Evaluator, 0, len(r.order[plugin.KindEvaluator]))
	for _, name := range r.order[plugin.KindEvaluator] {
		out = append(out, r.caps[Ref{Kind: plugin.KindEvaluator, Name: name}].(plugin.Evaluator))
	}
	return out
}

// Services returns all registered services in declaration order.
func (r *Registry) Services() []plugin.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]plugin.Service, 0, len(r.order[plugin.KindService]))
	for _, name := range r.order[plugin.KindService] {
		out = append(out, r.caps[Ref{Kind: plugin.KindService, Name: name}].(plugin.Service))
	}
	return out
}

// satisfies checks the implementation against its kind's contract.
func satisfies(kind plugin.Kind, impl any) bool {
	switch kind {
	case plugin.KindAction:
		_, ok := impl.(plugin.Action)
		return ok
	case plugin.KindProvider:
		_, ok := impl.(plugin.Provider)
		return ok
	case plugin.KindEvaluator:
		_, ok := impl.(plugin.Evaluator)
		return ok
	case plugin.KindService:
		_, ok := impl.(plugin.Service)
		return ok
	case plugin.KindWorker:
		_, ok := impl.(plugin.Worker)
		return ok
	default:
		return false
	}
}
