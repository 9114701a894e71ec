package market_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marketpool/settlement/internal/domain"
)

// seedRelative reproduces the canonical pool: player1 1000 on o1, player2
// 2000 on o2, player3 3000 on o1, staking closed.
func seedRelative(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, domain.ModeRelative, domain.KindDiscrete)
	f.publish(t)
	f.stake(t, player1, 1000, domain.DiscreteOutcome(1))
	f.stake(t, player2, 2000, domain.DiscreteOutcome(2))
	f.stake(t, player3, 3000, domain.DiscreteOutcome(1))
	f.closeStaking(t)
	return f
}

func TestResolvePreconditions(t *testing.T) {
	f := newFixture(t, domain.ModeRelative, domain.KindDiscrete)
	f.publish(t)
	f.stake(t, player1, 1000, domain.DiscreteOutcome(1))
	f.stake(t, player2, 2000, domain.DiscreteOutcome(2))

	// Oracle silent: not ready, even though the market is published.
	if _, err := f.m.Resolve(f.ctx, operator); !errors.Is(err, domain.ErrOracleNotReady) {
		t.Fatalf("resolve without oracle outcome: err = %v, want ErrOracleNotReady", err)
	}

	if err := f.orc.Register(f.ctx, f.m.ID()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.orc.SetOutcome(f.ctx, oracleOp, f.m.ID(), 1); err != nil {
		t.Fatalf("set outcome: %v", err)
	}

	// Buying window still open.
	if _, err := f.m.Resolve(f.ctx, operator); !errors.Is(err, domain.ErrStakingStillOpen) {
		t.Fatalf("resolve before deadline: err = %v, want ErrStakingStillOpen", err)
	}

	if _, err := f.m.Resolve(f.ctx, stranger); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("resolve by stranger: err = %v, want ErrUnauthorized", err)
	}

	f.clock.Set(f.clock.Now().Add(25 * time.Hour))
	ev, err := f.m.Resolve(f.ctx, operator)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ev.Type != domain.EventMarketResolved || ev.Outcome == nil || ev.Outcome.ID != 1 {
		t.Fatalf("event = %+v, want market_resolved with outcome #1", ev)
	}
	if got := f.m.Status(); got != domain.StatusResolved {
		t.Fatalf("status = %v, want resolved", got)
	}

	// Resolution is idempotent only in the sense that repeats fail cleanly.
	if _, err := f.m.Resolve(f.ctx, operator); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("double resolve: err = %v, want ErrInvalidState", err)
	}
	snap := f.m.Snapshot()
	if snap.WinningOutcome == nil || snap.WinningOutcome.ID != 1 {
		t.Fatalf("winning outcome = %+v, want #1", snap.WinningOutcome)
	}
}

func TestResolveUnknownOracleOutcome(t *testing.T) {
	f := seedRelative(t)
	if err := f.orc.Register(f.ctx, f.m.ID()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.orc.SetOutcome(f.ctx, oracleOp, f.m.ID(), 9); err != nil {
		t.Fatalf("set outcome: %v", err)
	}
	if _, err := f.m.Resolve(f.ctx, operator); !errors.Is(err, domain.ErrUnknownOutcome) {
		t.Fatalf("resolve to unknown outcome: err = %v, want ErrUnknownOutcome", err)
	}
	if got := f.m.Status(); got != domain.StatusPublished {
		t.Fatalf("failed resolve changed status to %v", got)
	}
}

func TestScalarResolveWaitsForMarketEnd(t *testing.T) {
	f := newFixture(t, domain.ModeBreakEven, domain.KindScalar)
	f.publish(t)
	f.stake(t, player1, 1000, domain.ScalarOutcome(100))

	// Close the buying window but keep the market end in the future.
	if _, err := f.m.Pause(operator); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := f.m.SetStakeBuyingEnd(operator, f.clock.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("SetStakeBuyingEnd: %v", err)
	}
	f.publish(t)

	if err := f.orc.Register(f.ctx, f.m.ID()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.orc.SetOutcome(f.ctx, oracleOp, f.m.ID(), 100); err != nil {
		t.Fatalf("set outcome: %v", err)
	}

	if _, err := f.m.Resolve(f.ctx, operator); !errors.Is(err, domain.ErrInvalidTiming) {
		t.Fatalf("scalar resolve before market end: err = %v, want ErrInvalidTiming", err)
	}

	f.clock.Set(f.clock.Now().Add(25 * time.Hour))
	if _, err := f.m.Resolve(f.ctx, operator); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

func TestRelativeEntitlements(t *testing.T) {
	f := seedRelative(t)
	f.resolveAs(t, 1)

	// 1000 * 6000 / 4000 = 1500; 3000 * 6000 / 4000 = 4500; loser gets 0.
	for _, tc := range []struct {
		name  string
		owner common.Address
		want  int64
	}{
		{"player1", player1, 1500},
		{"player2", player2, 0},
		{"player3", player3, 4500},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.m.Entitlement(tc.owner)
			if err != nil {
				t.Fatalf("Entitlement: %v", err)
			}
			if got != tc.want {
				t.Fatalf("entitlement = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestWithdrawPrizeRelative(t *testing.T) {
	f := seedRelative(t)
	f.resolveAs(t, 1)

	payout, ev, err := f.m.WithdrawPrize(f.ctx, player1)
	if err != nil {
		t.Fatalf("WithdrawPrize: %v", err)
	}
	if payout.Amount != 1500 || payout.Kind != domain.PayoutPrize {
		t.Fatalf("payout = %+v, want 1500 prize", payout)
	}
	if ev.Type != domain.EventPrizePaid || ev.Owner != player1 || ev.Amount != 1500 {
		t.Fatalf("event = %+v", ev)
	}
	if bal := f.balance(t, player1); bal != 1500 {
		t.Fatalf("player1 balance = %d, want 1500", bal)
	}
	if pool := f.m.TokenPool(); pool != 4500 {
		t.Fatalf("pool = %d, want 4500", pool)
	}

	// Repeat withdrawal finds all contributing stakes paid.
	if _, _, err := f.m.WithdrawPrize(f.ctx, player1); !errors.Is(err, domain.ErrAlreadyWithdrawn) {
		t.Fatalf("second withdraw: err = %v, want ErrAlreadyWithdrawn", err)
	}

	// The losing staker has nothing on the winning outcome.
	if _, _, err := f.m.WithdrawPrize(f.ctx, player2); !errors.Is(err, domain.ErrNothingToWithdraw) {
		t.Fatalf("loser withdraw: err = %v, want ErrNothingToWithdraw", err)
	}

	// An address with no stakes at all.
	if _, _, err := f.m.WithdrawPrize(f.ctx, stranger); !errors.Is(err, domain.ErrNothingToWithdraw) {
		t.Fatalf("stranger withdraw: err = %v, want ErrNothingToWithdraw", err)
	}

	if _, _, err := f.m.WithdrawPrize(f.ctx, player3); err != nil {
		t.Fatalf("player3 withdraw: %v", err)
	}
	if bal := f.balance(t, player3); bal != 4500 {
		t.Fatalf("player3 balance = %d, want 4500", bal)
	}
	if pool := f.m.TokenPool(); pool != 0 {
		t.Fatalf("pool = %d after all winners paid, want 0", pool)
	}
}

func TestWithdrawAcrossMultipleStakes(t *testing.T) {
	f := newFixture(t, domain.ModeRelative, domain.KindDiscrete)
	f.publish(t)
	f.stake(t, player1, 1000, domain.DiscreteOutcome(1))
	f.stake(t, player2, 2000, domain.DiscreteOutcome(2))
	f.stake(t, player3, 2000, domain.DiscreteOutcome(1))
	f.stake(t, player3, 1000, domain.DiscreteOutcome(1))
	f.closeStaking(t)
	f.resolveAs(t, 1)

	// player3's two winning stakes: 2000*6000/4000 + 1000*6000/4000 = 4500.
	if _, _, err := f.m.WithdrawPrize(f.ctx, player3); err != nil {
		t.Fatalf("WithdrawPrize: %v", err)
	}
	if bal := f.balance(t, player3); bal != 4500 {
		t.Fatalf("player3 balance = %d, want 4500", bal)
	}
	if bal := f.balance(t, f.m.Escrow()); bal != 1500 {
		t.Fatalf("escrow = %d, want 1500", bal)
	}
}

func TestWithdrawPrizesBulk(t *testing.T) {
	f := newFixture(t, domain.ModeRelative, domain.KindDiscrete)
	f.publish(t)
	f.stake(t, player1, 1000, domain.DiscreteOutcome(1))
	f.stake(t, player2, 2000, domain.DiscreteOutcome(2))
	f.stake(t, player3, 2000, domain.DiscreteOutcome(1))
	f.stake(t, player3, 1000, domain.DiscreteOutcome(1))
	f.closeStaking(t)
	f.resolveAs(t, 1)

	// First window: player3's first stake only. 2000*6000/4000 = 3000.
	if _, _, err := f.m.WithdrawPrizesBulk(f.ctx, player3, 0, 1); err != nil {
		t.Fatalf("bulk window 1: %v", err)
	}
	if bal := f.balance(t, player3); bal != 3000 {
		t.Fatalf("player3 balance after window 1 = %d, want 3000", bal)
	}

	// Second window: the remaining stake. 1000*6000/4000 = 1500.
	if _, _, err := f.m.WithdrawPrizesBulk(f.ctx, player3, 1, 1); err != nil {
		t.Fatalf("bulk window 2: %v", err)
	}
	if bal := f.balance(t, player3); bal != 4500 {
		t.Fatalf("player3 balance after window 2 = %d, want 4500", bal)
	}

	// Re-running a drained window fails with AlreadyWithdrawn.
	if _, _, err := f.m.WithdrawPrizesBulk(f.ctx, player3, 0, 2); !errors.Is(err, domain.ErrAlreadyWithdrawn) {
		t.Fatalf("drained window: err = %v, want ErrAlreadyWithdrawn", err)
	}
	// A window past the end of the holdings has nothing in it.
	if _, _, err := f.m.WithdrawPrizesBulk(f.ctx, player3, 10, 5); !errors.Is(err, domain.ErrNothingToWithdraw) {
		t.Fatalf("empty window: err = %v, want ErrNothingToWithdraw", err)
	}
}

func TestBulkWindowsSaturateOnHugeCount(t *testing.T) {
	f := newFixture(t, domain.ModeRelative, domain.KindDiscrete)
	f.publish(t)
	f.stake(t, player1, 1000, domain.DiscreteOutcome(1))
	f.stake(t, player2, 2000, domain.DiscreteOutcome(2))
	f.stake(t, player3, 2000, domain.DiscreteOutcome(1))
	f.stake(t, player3, 1000, domain.DiscreteOutcome(1))
	f.closeStaking(t)
	f.resolveAs(t, 1)

	// start+count overflows uint64; the window must still cover everything
	// from start to the end of the holdings.
	if _, _, err := f.m.WithdrawPrizesBulk(f.ctx, player3, 1, ^uint64(0)); err != nil {
		t.Fatalf("overflowing withdraw window: %v", err)
	}
	if bal := f.balance(t, player3); bal != 1500 {
		t.Fatalf("player3 = %d after overflowing window, want 1500", bal)
	}

	payouts, _, err := f.m.PayAllPrizesBulk(f.ctx, operator, 1, ^uint64(0))
	if err != nil {
		t.Fatalf("overflowing sweep window: %v", err)
	}
	if len(payouts) != 1 {
		t.Fatalf("overflowing sweep paid %d payouts, want 1", len(payouts))
	}
	if bal := f.balance(t, player3); bal != 4500 {
		t.Fatalf("player3 = %d after sweep, want 4500", bal)
	}
	if bal := f.balance(t, f.m.Escrow()); bal != 1500 {
		t.Fatalf("escrow = %d, want 1500", bal)
	}
}

func TestBreakEvenEntitlements(t *testing.T) {
	f := newFixture(t, domain.ModeBreakEven, domain.KindDiscrete)
	f.publish(t)
	f.stake(t, player1, 1000, domain.DiscreteOutcome(1))
	f.stake(t, player2, 2000, domain.DiscreteOutcome(2))
	f.stake(t, player3, 3000, domain.DiscreteOutcome(1))
	f.closeStaking(t)
	f.resolveAs(t, 1)

	// Break-even returns principal regardless of the winning outcome.
	for _, tc := range []struct {
		name  string
		owner common.Address
		want  int64
	}{
		{"player1", player1, 1000},
		{"player2", player2, 2000},
		{"player3", player3, 3000},
	} {
		got, err := f.m.Entitlement(tc.owner)
		if err != nil {
			t.Fatalf("%s entitlement: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s entitlement = %d, want %d", tc.name, got, tc.want)
		}
	}

	if _, _, err := f.m.WithdrawPrize(f.ctx, player2); err != nil {
		t.Fatalf("loser withdraw in break-even: %v", err)
	}
	if bal := f.balance(t, player2); bal != 2000 {
		t.Fatalf("player2 balance = %d, want 2000", bal)
	}
}

func TestScalarBreakEvenSettlement(t *testing.T) {
	f := newFixture(t, domain.ModeBreakEven, domain.KindScalar)
	f.publish(t)
	f.stake(t, player1, 1000, domain.ScalarOutcome(100))
	f.stake(t, player2, 2000, domain.ScalarOutcome(200))
	f.stake(t, player3, 3000, domain.ScalarOutcome(100))
	f.closeStaking(t)
	f.resolveAs(t, 100)

	snap := f.m.Snapshot()
	if snap.WinningOutcome == nil || snap.WinningOutcome.Value != 100 {
		t.Fatalf("winning outcome = %+v, want scalar 100", snap.WinningOutcome)
	}

	if _, _, err := f.m.WithdrawPrize(f.ctx, player1); err != nil {
		t.Fatalf("WithdrawPrize: %v", err)
	}
	if bal := f.balance(t, player1); bal != 1000 {
		t.Fatalf("player1 balance = %d, want 1000", bal)
	}
	if bal := f.balance(t, f.m.Escrow()); bal != 5000 {
		t.Fatalf("escrow = %d, want 5000", bal)
	}
}

func TestScalarRelativeSettlement(t *testing.T) {
	f := newFixture(t, domain.ModeRelative, domain.KindScalar)
	f.publish(t)
	f.stake(t, player1, 1000, domain.ScalarOutcome(100))
	f.stake(t, player2, 2000, domain.ScalarOutcome(200))
	f.stake(t, player3, 3000, domain.ScalarOutcome(100))
	f.closeStaking(t)
	f.resolveAs(t, 100)

	got, err := f.m.Entitlement(player1)
	if err != nil {
		t.Fatalf("Entitlement: %v", err)
	}
	if got != 1500 {
		t.Fatalf("entitlement = %d, want 1500", got)
	}
}

func TestPayAllPrizes(t *testing.T) {
	f := seedRelative(t)
	f.resolveAs(t, 1)

	payouts, events, err := f.m.PayAllPrizes(f.ctx, operator)
	if err != nil {
		t.Fatalf("PayAllPrizes: %v", err)
	}
	if len(payouts) != 2 || len(events) != 2 {
		t.Fatalf("payouts = %d events = %d, want 2 each", len(payouts), len(events))
	}
	if bal := f.balance(t, player1); bal != 1500 {
		t.Fatalf("player1 = %d, want 1500", bal)
	}
	if bal := f.balance(t, player3); bal != 4500 {
		t.Fatalf("player3 = %d, want 4500", bal)
	}
	if bal := f.balance(t, f.m.Escrow()); bal != 0 {
		t.Fatalf("escrow = %d, want 0 after full sweep", bal)
	}

	// The sweep terminates the ledger: losing stakes are marked paid too.
	s, err := f.m.StakeByID(2)
	if err != nil {
		t.Fatalf("StakeByID: %v", err)
	}
	if !s.Paid {
		t.Fatalf("losing stake left unpaid after full sweep")
	}

	if _, _, err := f.m.PayAllPrizes(f.ctx, stranger); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("sweep by stranger: err = %v, want ErrUnauthorized", err)
	}
}

func TestPayAllPrizesBulkResumable(t *testing.T) {
	f := newFixture(t, domain.ModeRelative, domain.KindDiscrete)
	f.publish(t)
	f.stake(t, player1, 1000, domain.DiscreteOutcome(1))
	f.stake(t, player2, 2000, domain.DiscreteOutcome(2))
	f.stake(t, player3, 2000, domain.DiscreteOutcome(1))
	f.stake(t, player3, 1000, domain.DiscreteOutcome(1))
	f.closeStaking(t)
	f.resolveAs(t, 1)

	if _, _, err := f.m.PayAllPrizesBulk(f.ctx, operator, 0, 3); err != nil {
		t.Fatalf("bulk sweep window 1: %v", err)
	}
	if bal := f.balance(t, player1); bal != 1500 {
		t.Fatalf("player1 = %d after window 1, want 1500", bal)
	}
	if bal := f.balance(t, player3); bal != 3000 {
		t.Fatalf("player3 = %d after window 1, want 3000", bal)
	}
	if bal := f.balance(t, f.m.Escrow()); bal != 1500 {
		t.Fatalf("escrow = %d after window 1, want 1500", bal)
	}

	if _, _, err := f.m.PayAllPrizesBulk(f.ctx, operator, 3, 1); err != nil {
		t.Fatalf("bulk sweep window 2: %v", err)
	}
	if bal := f.balance(t, player3); bal != 4500 {
		t.Fatalf("player3 = %d after window 2, want 4500", bal)
	}
	if bal := f.balance(t, f.m.Escrow()); bal != 0 {
		t.Fatalf("escrow = %d after window 2, want 0", bal)
	}

	// Overlapping replay pays nobody twice.
	payouts, _, err := f.m.PayAllPrizesBulk(f.ctx, operator, 0, 4)
	if err != nil {
		t.Fatalf("replayed sweep: %v", err)
	}
	if len(payouts) != 0 {
		t.Fatalf("replayed sweep produced %d payouts, want 0", len(payouts))
	}
}

func TestZeroStakeWinningOutcome(t *testing.T) {
	f := newFixture(t, domain.ModeRelative, domain.KindDiscrete)
	f.publish(t)
	f.stake(t, player1, 1000, domain.DiscreteOutcome(1))
	f.stake(t, player2, 2000, domain.DiscreteOutcome(2))
	f.closeStaking(t)

	// Outcome 3 carries no stake. Resolution is accepted; withdrawal is not.
	f.resolveAs(t, 3)

	if got := f.m.Status(); got != domain.StatusResolved {
		t.Fatalf("status = %v, want resolved", got)
	}
	for _, owner := range []common.Address{player1, player2} {
		if _, _, err := f.m.WithdrawPrize(f.ctx, owner); !errors.Is(err, domain.ErrNothingToWithdraw) {
			t.Fatalf("withdraw on zero-stake winner: err = %v, want ErrNothingToWithdraw", err)
		}
	}
	// Funds stay escrowed; the operator's recourse is cancel-and-refund on a
	// fresh market, not this one (resolution is terminal).
	if bal := f.balance(t, f.m.Escrow()); bal != 3000 {
		t.Fatalf("escrow = %d, want 3000", bal)
	}
}

func TestCancelAndRefunds(t *testing.T) {
	f := seedRelative(t)

	if _, _, err := f.m.GetRefund(f.ctx, player1, domain.DiscreteOutcome(1)); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("refund before cancel: err = %v, want ErrInvalidState", err)
	}

	if _, err := f.m.Cancel(operator); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// Self-service refund returns exactly the unpaid stake on that outcome.
	payout, ev, err := f.m.GetRefund(f.ctx, player1, domain.DiscreteOutcome(1))
	if err != nil {
		t.Fatalf("GetRefund: %v", err)
	}
	if payout.Amount != 1000 || payout.Kind != domain.PayoutRefund {
		t.Fatalf("payout = %+v, want 1000 refund", payout)
	}
	if ev.Type != domain.EventStakeRefunded || ev.Owner != player1 || ev.Amount != 1000 || ev.Outcome == nil {
		t.Fatalf("event = %+v", ev)
	}
	if bal := f.balance(t, player1); bal != 1000 {
		t.Fatalf("player1 = %d, want 1000", bal)
	}
	f.checkConservation(t)

	// A second refund on the same outcome finds nothing.
	if _, _, err := f.m.GetRefund(f.ctx, player1, domain.DiscreteOutcome(1)); !errors.Is(err, domain.ErrNothingToRefund) {
		t.Fatalf("double refund: err = %v, want ErrNothingToRefund", err)
	}
	// Wrong outcome finds nothing either.
	if _, _, err := f.m.GetRefund(f.ctx, player2, domain.DiscreteOutcome(1)); !errors.Is(err, domain.ErrNothingToRefund) {
		t.Fatalf("wrong outcome refund: err = %v, want ErrNothingToRefund", err)
	}

	// Operator-driven refund for one user.
	if _, _, err := f.m.RefundUser(f.ctx, operator, player2, domain.DiscreteOutcome(2)); err != nil {
		t.Fatalf("RefundUser: %v", err)
	}
	if bal := f.balance(t, player2); bal != 2000 {
		t.Fatalf("player2 = %d, want 2000", bal)
	}
	if _, _, err := f.m.RefundUser(f.ctx, stranger, player3, domain.DiscreteOutcome(1)); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("RefundUser by stranger: err = %v, want ErrUnauthorized", err)
	}
	f.checkConservation(t)
}

func TestRefundAllUsers(t *testing.T) {
	f := seedRelative(t)
	if _, err := f.m.Cancel(operator); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	payouts, events, err := f.m.RefundAllUsers(f.ctx, operator)
	if err != nil {
		t.Fatalf("RefundAllUsers: %v", err)
	}
	if len(payouts) != 3 || len(events) != 3 {
		t.Fatalf("payouts = %d events = %d, want 3 each", len(payouts), len(events))
	}

	for _, tc := range []struct {
		owner common.Address
		want  int64
	}{
		{player1, 1000}, {player2, 2000}, {player3, 3000},
	} {
		if bal := f.balance(t, tc.owner); bal != tc.want {
			t.Fatalf("balance = %d, want %d", bal, tc.want)
		}
	}
	if pool := f.m.TokenPool(); pool != 0 {
		t.Fatalf("pool = %d, want 0", pool)
	}
	if bal := f.balance(t, f.m.Escrow()); bal != 0 {
		t.Fatalf("escrow = %d, want 0", bal)
	}
	f.checkConservation(t)

	// A second sweep refunds nothing and fails nothing.
	payouts, _, err = f.m.RefundAllUsers(f.ctx, operator)
	if err != nil {
		t.Fatalf("second RefundAllUsers: %v", err)
	}
	if len(payouts) != 0 {
		t.Fatalf("second sweep produced %d payouts", len(payouts))
	}
}

func TestEntitlementRequiresResolved(t *testing.T) {
	f := seedRelative(t)
	if _, err := f.m.Entitlement(player1); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("entitlement before resolve: err = %v, want ErrInvalidState", err)
	}
}
