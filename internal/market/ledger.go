package market

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marketpool/settlement/internal/domain"
)

// stakeLedger records every stake placed on one market. Stake ids are
// sequential starting at 1 and index the backing slice directly. The ledger
// is only ever touched under the owning market's mutex, so it carries no
// locking of its own.
type stakeLedger struct {
	stakes  []*domain.Stake
	byOwner map[common.Address][]uint64
}

func newStakeLedger() *stakeLedger {
	return &stakeLedger{
		byOwner: make(map[common.Address][]uint64),
	}
}

// append records a new stake and returns it. The paid flag starts false.
func (l *stakeLedger) append(marketID string, owner common.Address, outcome domain.Outcome, amount int64, at time.Time) *domain.Stake {
	s := &domain.Stake{
		ID:       uint64(len(l.stakes)) + 1,
		MarketID: marketID,
		Owner:    owner,
		Outcome:  outcome,
		Amount:   amount,
		PlacedAt: at,
	}
	l.stakes = append(l.stakes, s)
	l.byOwner[owner] = append(l.byOwner[owner], s.ID)
	return s
}

func (l *stakeLedger) get(id uint64) (*domain.Stake, bool) {
	if id == 0 || id > uint64(len(l.stakes)) {
		return nil, false
	}
	return l.stakes[id-1], true
}

// stakesOf returns the ids of all stakes owned by owner, in placement order.
func (l *stakeLedger) stakesOf(owner common.Address) []uint64 {
	return l.byOwner[owner]
}

// markPaid flips the paid flag exactly once. It is the single point of truth
// preventing double payment: every payout and refund path must flip the flag
// here before any funds move.
func (l *stakeLedger) markPaid(id uint64) error {
	s, ok := l.get(id)
	if !ok {
		return domain.ErrNotFound
	}
	if s.Paid {
		return domain.ErrAlreadyPaid
	}
	s.Paid = true
	return nil
}

// unmarkPaid reverts a markPaid after a failed token transfer so the whole
// operation unwinds to its pre-call state.
func (l *stakeLedger) unmarkPaid(id uint64) {
	if s, ok := l.get(id); ok {
		s.Paid = false
	}
}

// forEachInRange visits stakes with ids in [start+1, start+count], bounding
// the work done per bulk invocation. fn returning false stops the walk.
func (l *stakeLedger) forEachInRange(start, count uint64, fn func(*domain.Stake) bool) {
	end := uint64(len(l.stakes))
	if start >= end {
		return
	}
	// Saturating add: start+count may wrap uint64.
	if count < end-start {
		end = start + count
	}
	for i := start; i < end; i++ {
		if !fn(l.stakes[i]) {
			return
		}
	}
}

func (l *stakeLedger) len() uint64 {
	return uint64(len(l.stakes))
}

// unpaidTotal sums the amounts of all stakes not yet paid or refunded. It is
// the conservation counterpart of the token pool.
func (l *stakeLedger) unpaidTotal() int64 {
	var total int64
	for _, s := range l.stakes {
		if !s.Paid {
			total += s.Amount
		}
	}
	return total
}
