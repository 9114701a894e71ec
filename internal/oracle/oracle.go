// Package oracle provides the in-process oracle collaborator: it accepts
// market registrations and records exactly one outcome value per registered
// market. Markets only consume the query side.
package oracle

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/marketpool/settlement/internal/domain"
)

// Oracle is a thread-safe single-operator outcome authority.
type Oracle struct {
	mu       sync.RWMutex
	name     string
	addr     common.Address
	operator common.Address

	registered map[string]bool
	outcomes   map[string]int64
}

// New creates an oracle operated by the given address. The oracle's own
// address is generated so markets can reference it in snapshots and events.
func New(name string, operator common.Address) *Oracle {
	uid := uuid.New()
	return &Oracle{
		name:       name,
		addr:       common.BytesToAddress(uid[:]),
		operator:   operator,
		registered: make(map[string]bool),
		outcomes:   make(map[string]int64),
	}
}

// Name returns the oracle's human-readable name.
func (o *Oracle) Name() string { return o.name }

// Address returns the oracle's identity address.
func (o *Oracle) Address() common.Address { return o.addr }

// Operator returns the address allowed to report outcomes.
func (o *Oracle) Operator() common.Address { return o.operator }

// Register adds a market to the oracle's books. Registering twice is a
// no-op.
func (o *Oracle) Register(ctx context.Context, marketID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registered[marketID] = true
	return nil
}

// Unregister removes a market. A market that was unregistered can no longer
// receive an outcome report.
func (o *Oracle) Unregister(ctx context.Context, marketID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.registered, marketID)
	return nil
}

// SetOutcome records the single authoritative outcome for a registered
// market. Only the oracle operator may report; a market may receive exactly
// one report, and only while registered.
func (o *Oracle) SetOutcome(ctx context.Context, caller common.Address, marketID string, outcome int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if caller != o.operator {
		return domain.ErrUnauthorized
	}
	if !o.registered[marketID] {
		return domain.ErrNotRegistered
	}
	if _, ok := o.outcomes[marketID]; ok {
		return domain.ErrOutcomeAlreadySet
	}
	o.outcomes[marketID] = outcome
	return nil
}

// IsResolved reports whether an outcome has been recorded for the market.
func (o *Oracle) IsResolved(ctx context.Context, marketID string) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.outcomes[marketID]
	return ok, nil
}

// WinningOutcome returns the recorded outcome value, or ErrOracleNotReady if
// none has been set.
func (o *Oracle) WinningOutcome(ctx context.Context, marketID string) (int64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	v, ok := o.outcomes[marketID]
	if !ok {
		return 0, domain.ErrOracleNotReady
	}
	return v, nil
}

var _ domain.Oracle = (*Oracle)(nil)
