package token

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marketpool/settlement/internal/domain"
)

var (
	alice  = common.HexToAddress("0x01")
	escrow = common.HexToAddress("0xe0")
	bob    = common.HexToAddress("0x02")
)

func TestTransferFrom(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	l.Issue(alice, 1000)
	l.Approve(alice, escrow, 600)

	if err := l.TransferFrom(ctx, alice, escrow, 700); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("over allowance: err = %v, want ErrInsufficientFunds", err)
	}
	if err := l.TransferFrom(ctx, alice, escrow, 400); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if got := l.Allowance(alice, escrow); got != 200 {
		t.Fatalf("allowance = %d, want 200", got)
	}
	if bal, _ := l.BalanceOf(ctx, alice); bal != 600 {
		t.Fatalf("alice = %d, want 600", bal)
	}
	if bal, _ := l.BalanceOf(ctx, escrow); bal != 400 {
		t.Fatalf("escrow = %d, want 400", bal)
	}

	// Balance short of allowance also fails without moving anything.
	l.Approve(alice, escrow, 1000)
	if err := l.TransferFrom(ctx, alice, escrow, 800); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("over balance: err = %v, want ErrInsufficientFunds", err)
	}
	if bal, _ := l.BalanceOf(ctx, alice); bal != 600 {
		t.Fatalf("alice changed on failed transfer: %d", bal)
	}
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	l.Issue(escrow, 500)

	if err := l.Transfer(ctx, escrow, bob, 600); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("overdraw: err = %v, want ErrInsufficientFunds", err)
	}
	if err := l.Transfer(ctx, escrow, bob, 500); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if bal, _ := l.BalanceOf(ctx, bob); bal != 500 {
		t.Fatalf("bob = %d, want 500", bal)
	}
	if err := l.Transfer(ctx, escrow, bob, 0); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("zero transfer: err = %v, want ErrInvalidAmount", err)
	}
}

func TestIssueDestroy(t *testing.T) {
	l := NewLedger()
	l.Issue(alice, 100)
	if err := l.Destroy(alice, 200); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("over destroy: err = %v, want ErrInsufficientFunds", err)
	}
	if err := l.Destroy(alice, 100); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if bal, _ := l.BalanceOf(context.Background(), alice); bal != 0 {
		t.Fatalf("alice = %d, want 0", bal)
	}
}
