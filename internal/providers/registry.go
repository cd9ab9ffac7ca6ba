// Package providers hosts the generation adapters. An adapter turns one
// claimed generation into stored artifacts, reporting progress along the way.
package providers

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"atelier/internal/domain"
	"atelier/internal/lifecycle"
)

// Result is what an adapter hands back on success. ActualCost is the
// provider-billed amount the ledger settles against.
type Result struct {
	Primary        domain.ArtifactReference
	Thumbnail      *domain.ArtifactReference
	Additional     []domain.ArtifactReference
	OutputMetadata map[string]any
	ActualCost     decimal.Decimal
}

// Adapter executes one generation. Implementations report progress and store
// artifacts exclusively through the execution context, which pins the tenant
// and board scope.
type Adapter interface {
	Name() string
	Generate(ctx context.Context, exec *lifecycle.ExecutionContext) (*Result, error)
}

// Registry maps provider names to adapters. It is populated once at startup
// and read-only afterwards, so lookups need no locking.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Duplicate names are a wiring bug and rejected.
func (r *Registry) Register(a Adapter) error {
	if a.Name() == "" {
		return fmt.Errorf("providers: adapter with empty name")
	}
	if _, ok := r.adapters[a.Name()]; ok {
		return fmt.Errorf("providers: adapter %q already registered", a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

// Lookup returns the adapter for a provider name.
func (r *Registry) Lookup(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("providers: unknown provider %q: %w", name, domain.ErrNotFound)
	}
	return a, nil
}

// Names lists the registered provider names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
