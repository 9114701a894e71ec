package domain

import "errors"

// Validation and state errors surfaced by market operations. A failing call
// leaves ledger and pool state untouched, so callers may retry once the
// offending precondition clears.
var (
	ErrUnauthorized      = errors.New("caller is not the market operator")
	ErrInvalidState      = errors.New("operation not allowed in current market state")
	ErrInvalidTiming     = errors.New("invalid market timing")
	ErrInvalidAmount     = errors.New("stake amount must be positive")
	ErrInvalidName       = errors.New("market name must not be empty")
	ErrInvalidOracle     = errors.New("oracle address must not be zero")
	ErrUnknownOutcome    = errors.New("outcome does not exist for this market")
	ErrNoOutcomes        = errors.New("market needs at least two outcomes")
	ErrStakingClosed     = errors.New("stake buying window has closed")
	ErrStakingStillOpen  = errors.New("stake buying window is still open")
	ErrOracleNotReady    = errors.New("oracle has not resolved this market")
	ErrAlreadyPaid       = errors.New("stake already paid")
	ErrAlreadyWithdrawn  = errors.New("prize already withdrawn")
	ErrNothingToWithdraw = errors.New("nothing to withdraw")
	ErrNothingToRefund   = errors.New("nothing to refund")
)

// Infrastructure errors shared by stores, caches, and collaborators.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrLockHeld          = errors.New("lock already held")
	ErrInsufficientFunds = errors.New("insufficient token balance")
	ErrNotRegistered     = errors.New("market not registered with oracle")
	ErrOutcomeAlreadySet = errors.New("oracle outcome already set")
)
