// Package token provides the reference in-memory token ledger the settlement
// engine escrows against. It mirrors ERC-20 allowance semantics: a market can
// only pull funds a holder has approved for its escrow account.
package token

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marketpool/settlement/internal/domain"
)

// Ledger is a thread-safe balance and allowance book. Amounts are fixed-point
// integer token base units.
type Ledger struct {
	mu         sync.RWMutex
	balances   map[common.Address]int64
	allowances map[common.Address]map[common.Address]int64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[common.Address]int64),
		allowances: make(map[common.Address]map[common.Address]int64),
	}
}

// Issue mints amount new tokens to account.
func (l *Ledger) Issue(account common.Address, amount int64) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

// Destroy burns up to amount tokens from account.
func (l *Ledger) Destroy(account common.Address, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[account] < amount {
		return domain.ErrInsufficientFunds
	}
	l.balances[account] -= amount
	return nil
}

// Approve sets the exact amount spender may pull from owner. Setting 0
// revokes a previous approval.
func (l *Ledger) Approve(owner, spender common.Address, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]int64)
	}
	l.allowances[owner][spender] = amount
}

// Allowance reports how much spender may still pull from owner.
func (l *Ledger) Allowance(owner, spender common.Address) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowances[owner][spender]
}

// TransferFrom debits owner by amount into escrow, consuming allowance. It
// fails with ErrInsufficientFunds if either the balance or the approved
// allowance does not cover amount; on failure nothing moves.
func (l *Ledger) TransferFrom(ctx context.Context, owner, escrow common.Address, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[owner] < amount {
		return domain.ErrInsufficientFunds
	}
	if l.allowances[owner][escrow] < amount {
		return domain.ErrInsufficientFunds
	}

	l.balances[owner] -= amount
	l.allowances[owner][escrow] -= amount
	l.balances[escrow] += amount
	return nil
}

// Transfer moves amount from one account to another directly.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[from] < amount {
		return domain.ErrInsufficientFunds
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

// BalanceOf reports the balance of an account.
func (l *Ledger) BalanceOf(ctx context.Context, account common.Address) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account], nil
}

var _ domain.TokenLedger = (*Ledger)(nil)
