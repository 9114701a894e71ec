package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// TokenLedger is the token/asset transfer collaborator. The settlement core
// only ever asks it to move a fixed-point integer amount into escrow, out of
// escrow, or to report a balance. A transfer either fully succeeds or fails
// the whole enclosing operation; there is no partial-transfer state.
type TokenLedger interface {
	// TransferFrom debits owner by amount into the market's escrow account.
	// It fails with ErrInsufficientFunds when the owner's approved/available
	// balance does not cover amount.
	TransferFrom(ctx context.Context, owner, escrow common.Address, amount int64) error

	// Transfer credits recipient with amount out of the escrow account.
	Transfer(ctx context.Context, escrow, recipient common.Address, amount int64) error

	// BalanceOf reports the token balance of an account.
	BalanceOf(ctx context.Context, account common.Address) (int64, error)
}

// Oracle is the external authority that reports exactly one outcome value per
// registered market. The settlement core only consumes the query side;
// registration bookkeeping belongs to the oracle operator.
type Oracle interface {
	Register(ctx context.Context, marketID string) error
	Unregister(ctx context.Context, marketID string) error

	// IsResolved reports whether the oracle has recorded an outcome for the
	// market. Unregistered markets are never resolved.
	IsResolved(ctx context.Context, marketID string) (bool, error)

	// WinningOutcome returns the raw outcome value the oracle reported. For
	// discrete markets this is the outcome ordinal; for scalar markets the
	// nominated integer. It fails with ErrOracleNotReady when no outcome has
	// been set.
	WinningOutcome(ctx context.Context, marketID string) (int64, error)
}
