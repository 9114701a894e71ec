package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names the typed notifications mutating market operations emit.
type EventType string

const (
	EventMarketCreated   EventType = "market_created"
	EventOutcomeAdded    EventType = "outcome_added"
	EventMarketPublished EventType = "market_published"
	EventMarketPaused    EventType = "market_paused"
	EventMarketCanceled  EventType = "market_canceled"
	EventStakePlaced     EventType = "stake_placed"
	EventMarketResolved  EventType = "market_resolved"
	EventPrizePaid       EventType = "prize_paid"
	EventStakeRefunded   EventType = "stake_refunded"
)

// Event is the single externally observable side channel of the settlement
// core. Tests and downstream consumers assert on event fields, never on
// ledger internals.
type Event struct {
	Type     EventType      `json:"type"`
	MarketID string         `json:"market_id"`
	Owner    common.Address `json:"owner,omitempty"`
	Outcome  *Outcome       `json:"outcome,omitempty"`
	Amount   int64          `json:"amount,omitempty"`
	StakeID  uint64         `json:"stake_id,omitempty"`
	At       time.Time      `json:"at"`
}
