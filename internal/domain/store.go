package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists market snapshots.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// StakeStore persists the stake ledger. Stakes are append-only except for the
// paid flag.
type StakeStore interface {
	Insert(ctx context.Context, s Stake) error
	MarkPaid(ctx context.Context, marketID string, stakeIDs []uint64) error
	GetByID(ctx context.Context, marketID string, stakeID uint64) (Stake, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Stake, error)
	ListByOwner(ctx context.Context, marketID string, owner common.Address) ([]Stake, error)
}

// PayoutStore records every funds-out transfer for auditing.
type PayoutStore interface {
	Insert(ctx context.Context, p Payout) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Payout, error)
}
