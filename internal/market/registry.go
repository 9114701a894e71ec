package market

import (
	"sync"

	"github.com/marketpool/settlement/internal/domain"
)

// Registry holds every live market aggregate, keyed by market id. Each
// market's state is independently owned; the registry only guards the map
// itself.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		markets: make(map[string]*Market),
	}
}

// Add registers a newly created market.
func (r *Registry) Add(m *Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.markets[m.ID()]; ok {
		return domain.ErrAlreadyExists
	}
	r.markets[m.ID()] = m
	return nil
}

// Get looks up a market by id.
func (r *Registry) Get(id string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.markets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

// List returns all registered markets.
func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	return out
}

// Len returns the number of registered markets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
