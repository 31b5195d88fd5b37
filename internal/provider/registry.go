package provider

import (
	"fmt"
	"sort"
)

// Registry maps provider names to their implementations.
// All registration happens at startup; the registry is read-only during
// steady-state operation and needs no locking on the lookup path.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. Registering the same name twice within one
// process lifecycle is a wiring bug and fails.
func (r *Registry) Register(p Provider) error {
	name := p.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateProvider, name)
	}
	r.providers[name] = p
	return nil
}

// Resolve returns the provider registered under name.
func (r *Registry) Resolve(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns all registered provider names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Enabled returns the names of providers accepting traffic, sorted.
func (r *Registry) Enabled() []string {
	out := make([]string, 0, len(r.providers))
	for name, p := range r.providers {
		if p.Config().Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
