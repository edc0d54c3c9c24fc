// Package providers holds the accounting provider adapters and the helpers
// they share. Each provider lives in its own subpackage.
package providers

import (
	"fmt"
	"sort"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure Registry implements the interface.
var _ driven.AdapterRegistry = (*Registry)(nil)

// Registry maps provider types to their adapters.
// It is built once at startup and read-only afterwards.
type Registry struct {
	adapters map[domain.ProviderType]driven.ProviderAdapter
}

// NewRegistry creates a registry from the given adapters.
// A later adapter for the same provider replaces an earlier one.
func NewRegistry(adapters ...driven.ProviderAdapter) *Registry {
	r := &Registry{adapters: make(map[domain.ProviderType]driven.ProviderAdapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		r.adapters[a.Type()] = a
	}
	return r
}

// Get returns the adapter for a provider.
func (r *Registry) Get(provider domain.ProviderType) (driven.ProviderAdapter, error) {
	a, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, provider)
	}
	return a, nil
}

// Providers returns the registered provider types in a stable order.
func (r *Registry) Providers() []domain.ProviderType {
	out := make([]domain.ProviderType, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
