package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Stake is one participant's wager of a token amount on one outcome of one
// market. Stakes are append-only: after creation the only field that ever
// changes is Paid, exactly once, on successful payout or refund.
type Stake struct {
	ID       uint64         `json:"id"` // sequential per market, starting at 1
	MarketID string         `json:"market_id"`
	Owner    common.Address `json:"owner"`
	Outcome  Outcome        `json:"outcome"`
	Amount   int64          `json:"amount"` // token base units, always > 0
	Paid     bool           `json:"paid"`
	PlacedAt time.Time      `json:"placed_at"`
}

// PayoutKind distinguishes prize payments from cancellation refunds in the
// audit trail.
type PayoutKind string

const (
	PayoutPrize  PayoutKind = "prize"
	PayoutRefund PayoutKind = "refund"
)

// Payout is the audit record written for every funds-out transfer a market
// performs. One payout may cover several stakes of the same owner.
type Payout struct {
	ID       string         `json:"id"`
	MarketID string         `json:"market_id"`
	Owner    common.Address `json:"owner"`
	Kind     PayoutKind     `json:"kind"`
	Amount   int64          `json:"amount"`
	StakeIDs []uint64       `json:"stake_ids"`
	PaidAt   time.Time      `json:"paid_at"`
}
