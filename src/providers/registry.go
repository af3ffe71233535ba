package providers

import (
	"fmt"
	"sync"

	"github.com/blipee/aiqueue/src/breaker"
	"github.com/blipee/aiqueue/src/models"
)

// Registry holds the configured provider adapters behind the single
// models.Provider interface. Selection goes through a strategy object rather
// than string dispatch at call sites.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]models.Provider
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]models.Provider)}
}

func (r *Registry) Register(p models.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; exists {
		return fmt.Errorf("provider %s already registered", p.Name())
	}
	r.providers[p.Name()] = p
	r.order = append(r.order, p.Name())
	return nil
}

func (r *Registry) Get(name string) (models.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// List returns providers in registration order.
func (r *Registry) List() []models.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.providers[name])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// SelectionStrategy picks the provider for one attempt.
type SelectionStrategy interface {
	// Select returns a provider honoring the caller's hint where possible,
	// skipping excluded names. An error means no routable provider remains.
	Select(hint string, exclude map[string]bool) (models.Provider, error)
}

// CheapestAvailable honors the provider hint unless its breaker is open, and
// otherwise routes to the cheapest provider whose breaker admits calls.
type CheapestAvailable struct {
	registry *Registry
	breakers *breaker.Set
}

func NewCheapestAvailable(registry *Registry, breakers *breaker.Set) *CheapestAvailable {
	return &CheapestAvailable{registry: registry, breakers: breakers}
}

func (s *CheapestAvailable) Select(hint string, exclude map[string]bool) (models.Provider, error) {
	if hint != "" && !exclude[hint] {
		if p, ok := s.registry.Get(hint); ok && !s.breakers.For(hint).Open() {
			return p, nil
		}
		// Open breaker on the hinted provider falls back automatically.
	}

	var best models.Provider
	bestPrice := 0.0
	for _, p := range s.registry.List() {
		if exclude[p.Name()] || s.breakers.For(p.Name()).Open() {
			continue
		}
		in, out := p.CostPerMTok()
		price := in + out
		if best == nil || price < bestPrice {
			best = p
			bestPrice = price
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no provider with a closed breaker: %w", models.ErrProviderUnavailable)
	}
	return best, nil
}
