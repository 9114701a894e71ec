package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marketpool/settlement/internal/domain"
	"github.com/marketpool/settlement/internal/token"
)

// TokenService exposes the reference token ledger: an admin faucet for
// issuance, holder approvals toward market escrows, and balance queries.
type TokenService struct {
	ledger *token.Ledger
	admin  common.Address
	logger *slog.Logger
}

// NewTokenService creates a TokenService. admin is the only address allowed
// to issue and destroy tokens.
func NewTokenService(ledger *token.Ledger, admin common.Address, logger *slog.Logger) *TokenService {
	return &TokenService{ledger: ledger, admin: admin, logger: logger}
}

// Issue mints tokens to an account. Admin only.
func (s *TokenService) Issue(ctx context.Context, caller, account common.Address, amount int64) error {
	if caller != s.admin {
		return domain.ErrUnauthorized
	}
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	s.ledger.Issue(account, amount)

	s.logger.InfoContext(ctx, "token_service: issued",
		slog.String("account", account.Hex()),
		slog.Int64("amount", amount),
	)
	return nil
}

// Destroy burns tokens from an account. Admin only.
func (s *TokenService) Destroy(ctx context.Context, caller, account common.Address, amount int64) error {
	if caller != s.admin {
		return domain.ErrUnauthorized
	}
	if err := s.ledger.Destroy(account, amount); err != nil {
		return fmt.Errorf("token_service: destroy: %w", err)
	}
	return nil
}

// Approve lets a holder set the exact amount a market escrow may pull.
func (s *TokenService) Approve(ctx context.Context, owner, spender common.Address, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	s.ledger.Approve(owner, spender, amount)
	return nil
}

// Allowance reports how much spender may still pull from owner.
func (s *TokenService) Allowance(ctx context.Context, owner, spender common.Address) int64 {
	return s.ledger.Allowance(owner, spender)
}

// BalanceOf reports an account's balance.
func (s *TokenService) BalanceOf(ctx context.Context, account common.Address) (int64, error) {
	bal, err := s.ledger.BalanceOf(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("token_service: balance of %s: %w", account.Hex(), err)
	}
	return bal, nil
}
