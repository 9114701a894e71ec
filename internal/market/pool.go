package market

import (
	"math/big"

	"github.com/marketpool/settlement/internal/domain"
)

// poolAccounting tracks the aggregate token pool a market escrows and the
// per-outcome stake totals consumed at resolution. Like the ledger it is
// guarded by the owning market's mutex.
type poolAccounting struct {
	tokenPool     int64
	outcomeTotals map[string]int64
}

func newPoolAccounting() *poolAccounting {
	return &poolAccounting{
		outcomeTotals: make(map[string]int64),
	}
}

func (p *poolAccounting) onStake(outcome domain.Outcome, amount int64) {
	p.tokenPool += amount
	p.outcomeTotals[outcome.Key()] += amount
}

// onPayout decrements the pool for both prize payments and refunds.
func (p *poolAccounting) onPayout(amount int64) {
	p.tokenPool -= amount
}

func (p *poolAccounting) total() int64 {
	return p.tokenPool
}

func (p *poolAccounting) outcomeTotal(outcome domain.Outcome) int64 {
	return p.outcomeTotals[outcome.Key()]
}

// relativePrize computes the pari-mutuel payout for one stake: the stake's
// share of the whole pool, proportional to its weight on the winning outcome.
// Division floors; rounding dust stays in the pool. The multiply runs through
// math/big so large pools cannot overflow int64 midway.
func relativePrize(amount, distributionBase, winningTotal int64) int64 {
	if winningTotal == 0 {
		return 0
	}
	num := new(big.Int).Mul(big.NewInt(amount), big.NewInt(distributionBase))
	num.Quo(num, big.NewInt(winningTotal))
	return num.Int64()
}
