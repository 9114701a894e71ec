package oracle

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marketpool/settlement/internal/domain"
)

// Directory resolves oracle addresses to live oracle instances, so markets
// can be created against (or re-bound to) any oracle the operator has spun
// up.
type Directory struct {
	mu      sync.RWMutex
	oracles map[common.Address]*Oracle
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		oracles: make(map[common.Address]*Oracle),
	}
}

// Create spins up a new oracle under the given operator and registers it in
// the directory.
func (d *Directory) Create(name string, operator common.Address) *Oracle {
	o := New(name, operator)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.oracles[o.Address()] = o
	return o
}

// Get resolves an oracle by address.
func (d *Directory) Get(addr common.Address) (*Oracle, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	o, ok := d.oracles[addr]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o, nil
}

// List returns every oracle in the directory.
func (d *Directory) List() []*Oracle {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Oracle, 0, len(d.oracles))
	for _, o := range d.oracles {
		out = append(out, o)
	}
	return out
}
