package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marketpool/settlement/internal/domain"
)

func TestSetOutcome(t *testing.T) {
	ctx := context.Background()
	op := common.HexToAddress("0xa1")
	o := New("test oracle", op)

	if err := o.SetOutcome(ctx, op, "m1", 1); !errors.Is(err, domain.ErrNotRegistered) {
		t.Fatalf("unregistered: err = %v, want ErrNotRegistered", err)
	}

	if err := o.Register(ctx, "m1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := o.SetOutcome(ctx, common.HexToAddress("0xff"), "m1", 1); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-operator: err = %v, want ErrUnauthorized", err)
	}
	if err := o.SetOutcome(ctx, op, "m1", 1); err != nil {
		t.Fatalf("SetOutcome: %v", err)
	}
	if err := o.SetOutcome(ctx, op, "m1", 2); !errors.Is(err, domain.ErrOutcomeAlreadySet) {
		t.Fatalf("second report: err = %v, want ErrOutcomeAlreadySet", err)
	}

	resolved, err := o.IsResolved(ctx, "m1")
	if err != nil || !resolved {
		t.Fatalf("IsResolved = %v, %v", resolved, err)
	}
	v, err := o.WinningOutcome(ctx, "m1")
	if err != nil || v != 1 {
		t.Fatalf("WinningOutcome = %d, %v", v, err)
	}
}

func TestUnregisterBlocksReports(t *testing.T) {
	ctx := context.Background()
	op := common.HexToAddress("0xa1")
	o := New("test oracle", op)

	if err := o.Register(ctx, "m1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := o.Unregister(ctx, "m1"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if err := o.SetOutcome(ctx, op, "m1", 1); !errors.Is(err, domain.ErrNotRegistered) {
		t.Fatalf("after unregister: err = %v, want ErrNotRegistered", err)
	}

	resolved, err := o.IsResolved(ctx, "m1")
	if err != nil || resolved {
		t.Fatalf("IsResolved = %v, %v, want false", resolved, err)
	}
	if _, err := o.WinningOutcome(ctx, "m1"); !errors.Is(err, domain.ErrOracleNotReady) {
		t.Fatalf("WinningOutcome: err = %v, want ErrOracleNotReady", err)
	}
}
