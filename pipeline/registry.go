package pipeline

import (
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Registry maps provider identifiers to their pipelines. It is filled at
// construction time; lookups never build anything.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]Pipeline
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string]Pipeline)}
}

// Register installs p for provider, replacing any previous entry.
func (r *Registry) Register(provider string, p Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[provider] = p
}

// Lookup returns the pipeline for provider.
func (r *Registry) Lookup(provider string) (Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[provider]
	if !ok {
		return Pipeline{}, fmt.Errorf("no pipeline registered for provider %q", provider)
	}
	return p, nil
}

// Providers returns the registered providers in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := lo.Keys(r.pipelines)
	slices.Sort(providers)
	return providers
}
