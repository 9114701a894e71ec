// Package domain defines the pari-mutuel settlement domain model: markets,
// stakes, outcomes, typed events, and the store/cache/collaborator interfaces
// implemented elsewhere in the tree.
package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketStatus is the lifecycle stage of a market. The ordinals match the
// wire values the original settlement contracts exposed, so they must not be
// reordered.
type MarketStatus int

const (
	StatusInitializing MarketStatus = iota // operator is still configuring
	StatusPublished                        // open for staking
	StatusResolved                         // outcome fixed, payouts available
	StatusPaused                           // staking halted, config mutable
	StatusCanceled                         // terminal, refunds available
)

func (s MarketStatus) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusPublished:
		return "published"
	case StatusResolved:
		return "resolved"
	case StatusPaused:
		return "paused"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further lifecycle transition is possible.
func (s MarketStatus) Terminal() bool {
	return s == StatusResolved || s == StatusCanceled
}

// MarketKind distinguishes how outcomes are identified.
type MarketKind string

const (
	// KindDiscrete markets carry an operator-declared, ordered outcome set;
	// outcome ids are sequential starting at 1.
	KindDiscrete MarketKind = "discrete"

	// KindScalar markets accept any integer a staker nominates; nothing is
	// predeclared.
	KindScalar MarketKind = "scalar"
)

// PrizeMode selects the payout formula applied at settlement. It is fixed at
// market creation.
type PrizeMode string

const (
	// ModeRelative redistributes the whole pool proportionally among stakes
	// on the winning outcome (pari-mutuel).
	ModeRelative PrizeMode = "relative"

	// ModeBreakEven returns every staker their own principal regardless of
	// which outcome won.
	ModeBreakEven PrizeMode = "break_even"
)

// Outcome is a tagged union over the two outcome identifier spaces. Discrete
// markets address outcomes by 1-based ordinal; scalar markets by the raw
// nominated value. The zero Outcome is not valid.
type Outcome struct {
	Kind  MarketKind `json:"kind"`
	ID    uint32     `json:"id,omitempty"`    // discrete ordinal, 1-based
	Value int64      `json:"value,omitempty"` // scalar nomination
}

// DiscreteOutcome builds an outcome identifier for a predeclared outcome.
func DiscreteOutcome(id uint32) Outcome {
	return Outcome{Kind: KindDiscrete, ID: id}
}

// ScalarOutcome builds an outcome identifier for a nominated integer value.
func ScalarOutcome(v int64) Outcome {
	return Outcome{Kind: KindScalar, Value: v}
}

// Key returns a stable string form usable as a map key and in event payloads.
func (o Outcome) Key() string {
	if o.Kind == KindScalar {
		return fmt.Sprintf("s:%d", o.Value)
	}
	return fmt.Sprintf("d:%d", o.ID)
}

func (o Outcome) String() string {
	if o.Kind == KindScalar {
		return fmt.Sprintf("%d", o.Value)
	}
	return fmt.Sprintf("#%d", o.ID)
}

// Market is the persisted / externally visible view of one prediction market.
// The live aggregate (state machine, ledger, pool) lives in internal/market;
// this struct is what stores, caches, and the API exchange.
type Market struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Kind           MarketKind     `json:"kind"`
	Mode           PrizeMode      `json:"mode"`
	Status         MarketStatus   `json:"-"`
	StatusName     string         `json:"status"`
	Operator       common.Address `json:"operator"`
	OracleAddr     common.Address `json:"oracle"`
	Escrow         common.Address `json:"escrow"`
	Outcomes       []string       `json:"outcomes,omitempty"` // discrete labels, index = id-1
	StakeBuyingEnd time.Time      `json:"stake_buying_end"`
	MarketEnd      time.Time      `json:"market_end"`
	WinningOutcome *Outcome       `json:"winning_outcome,omitempty"`
	TokenPool      int64          `json:"token_pool"`
	StakeCount     uint64         `json:"stake_count"`
	CreatedAt      time.Time      `json:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}
