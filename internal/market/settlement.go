package market

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/marketpool/settlement/internal/domain"
)

// Resolve queries the oracle, fixes the winning outcome, and moves the
// market to its terminal Resolved state. Preconditions are checked in order:
// state, oracle readiness, timing, outcome validity. The token pool is
// frozen as the distribution base for relative-mode payouts.
func (m *Market) Resolve(ctx context.Context, caller common.Address) (domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOperator(caller); err != nil {
		return domain.Event{}, err
	}
	if m.status != domain.StatusPublished {
		return domain.Event{}, domain.ErrInvalidState
	}

	resolved, err := m.oracle.IsResolved(ctx, m.id)
	if err != nil {
		return domain.Event{}, fmt.Errorf("market %s: query oracle: %w", m.id, err)
	}
	if !resolved {
		return domain.Event{}, domain.ErrOracleNotReady
	}

	now := m.now()
	if now.Before(m.stakeBuyingEnd) {
		return domain.Event{}, domain.ErrStakingStillOpen
	}
	// Scalar markets additionally wait for the market end deadline: the
	// observable quantity is only final then.
	if m.kind == domain.KindScalar && now.Before(m.marketEnd) {
		return domain.Event{}, domain.ErrInvalidTiming
	}

	raw, err := m.oracle.WinningOutcome(ctx, m.id)
	if err != nil {
		return domain.Event{}, fmt.Errorf("market %s: read oracle outcome: %w", m.id, err)
	}

	var winning domain.Outcome
	if m.kind == domain.KindDiscrete {
		if raw < 1 || raw > int64(len(m.outcomes)) {
			return domain.Event{}, domain.ErrUnknownOutcome
		}
		winning = domain.DiscreteOutcome(uint32(raw))
	} else {
		winning = domain.ScalarOutcome(raw)
	}

	m.winning = &winning
	m.distributionBase = m.pool.total()
	m.winningTotal = m.pool.outcomeTotal(winning)
	m.status = domain.StatusResolved
	at := m.now()
	m.resolvedAt = &at

	ev := m.event(domain.EventMarketResolved)
	ev.Outcome = &winning
	return ev, nil
}

// contributing reports whether a stake participates in the payout under the
// market's prize mode: in break-even mode every stake does, in relative mode
// only stakes on the winning outcome.
func (m *Market) contributing(s *domain.Stake) bool {
	if m.mode == domain.ModeBreakEven {
		return true
	}
	return m.winning != nil && s.Outcome.Key() == m.winning.Key()
}

// stakePrize computes the payout for a single stake. Relative-mode stakes on
// losing outcomes yield 0; a winning outcome that carried no stake makes
// every stake unpayable through this path.
func (m *Market) stakePrize(s *domain.Stake) int64 {
	if m.mode == domain.ModeBreakEven {
		return s.Amount
	}
	if m.winning == nil || s.Outcome.Key() != m.winning.Key() {
		return 0
	}
	return relativePrize(s.Amount, m.distributionBase, m.winningTotal)
}

// Entitlement is the read-only payout query: the amount owner would receive
// from WithdrawPrize right now. It is a pure function of ledger state.
func (m *Market) Entitlement(owner common.Address) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != domain.StatusResolved {
		return 0, domain.ErrInvalidState
	}

	var total int64
	for _, id := range m.ledger.stakesOf(owner) {
		s, _ := m.ledger.get(id)
		if s == nil || s.Paid || !m.contributing(s) {
			continue
		}
		total += m.stakePrize(s)
	}
	return total, nil
}

// payOut flips the paid flag on every listed stake, decrements the pool, and
// transfers the sum out of escrow. A failed transfer unwinds every mutation
// so the call is all-or-nothing.
func (m *Market) payOut(ctx context.Context, recipient common.Address, ids []uint64, amount int64, kind domain.PayoutKind) (domain.Payout, error) {
	flipped := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if err := m.ledger.markPaid(id); err != nil {
			for _, fid := range flipped {
				m.ledger.unmarkPaid(fid)
			}
			return domain.Payout{}, err
		}
		flipped = append(flipped, id)
	}

	m.pool.onPayout(amount)
	if amount > 0 {
		if err := m.token.Transfer(ctx, m.escrow, recipient, amount); err != nil {
			m.pool.onPayout(-amount)
			for _, fid := range flipped {
				m.ledger.unmarkPaid(fid)
			}
			return domain.Payout{}, fmt.Errorf("market %s: transfer to %s: %w", m.id, recipient, err)
		}
	}

	return domain.Payout{
		ID:       uuid.New().String(),
		MarketID: m.id,
		Owner:    recipient,
		Kind:     kind,
		Amount:   amount,
		StakeIDs: flipped,
		PaidAt:   m.now(),
	}, nil
}

// WithdrawPrize pays the caller everything their unpaid stakes entitle them
// to under the market's prize mode. It fails with ErrNothingToWithdraw when
// the caller has no stakes or a zero entitlement, and with
// ErrAlreadyWithdrawn when every contributing stake is already paid.
func (m *Market) WithdrawPrize(ctx context.Context, caller common.Address) (domain.Payout, domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.ledger.stakesOf(caller)
	return m.withdrawLocked(ctx, caller, ids)
}

// WithdrawPrizesBulk is the self-service chunked variant: it considers only
// the window [start, start+count) of the caller's own stakes, in placement
// order, so large holdings can be drained across several bounded calls.
func (m *Market) WithdrawPrizesBulk(ctx context.Context, caller common.Address, start, count uint64) (domain.Payout, domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.ledger.stakesOf(caller)
	if start >= uint64(len(ids)) {
		ids = nil
	} else {
		// Saturating add: start+count may wrap uint64.
		end := uint64(len(ids))
		if count < end-start {
			end = start + count
		}
		ids = ids[start:end]
	}
	return m.withdrawLocked(ctx, caller, ids)
}

func (m *Market) withdrawLocked(ctx context.Context, caller common.Address, ids []uint64) (domain.Payout, domain.Event, error) {
	if m.status != domain.StatusResolved {
		return domain.Payout{}, domain.Event{}, domain.ErrInvalidState
	}
	if len(ids) == 0 {
		return domain.Payout{}, domain.Event{}, domain.ErrNothingToWithdraw
	}

	var (
		contributing int
		unpaid       []uint64
		amount       int64
	)
	for _, id := range ids {
		s, _ := m.ledger.get(id)
		if s == nil || !m.contributing(s) {
			continue
		}
		contributing++
		if s.Paid {
			continue
		}
		unpaid = append(unpaid, id)
		amount += m.stakePrize(s)
	}

	if contributing > 0 && len(unpaid) == 0 {
		return domain.Payout{}, domain.Event{}, domain.ErrAlreadyWithdrawn
	}
	if amount == 0 {
		return domain.Payout{}, domain.Event{}, domain.ErrNothingToWithdraw
	}

	payout, err := m.payOut(ctx, caller, unpaid, amount, domain.PayoutPrize)
	if err != nil {
		return domain.Payout{}, domain.Event{}, err
	}

	ev := m.event(domain.EventPrizePaid)
	ev.Owner = caller
	ev.Amount = amount
	return payout, ev, nil
}

// PayAllPrizes is the operator sweep that performs the payout for every
// stake in one pass.
func (m *Market) PayAllPrizes(ctx context.Context, caller common.Address) ([]domain.Payout, []domain.Event, error) {
	return m.PayAllPrizesBulk(ctx, caller, 0, ^uint64(0))
}

// PayAllPrizesBulk processes the stake window [start, start+count) of the
// whole ledger, paying each unpaid stake its prize. Losing stakes are marked
// paid with a zero payout so a completed sweep terminates the ledger.
// Partial sweeps are resumable: re-invoking with the next offset pays every
// stake at most once regardless of partitioning.
func (m *Market) PayAllPrizesBulk(ctx context.Context, caller common.Address, start, count uint64) ([]domain.Payout, []domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOperator(caller); err != nil {
		return nil, nil, err
	}
	if m.status != domain.StatusResolved {
		return nil, nil, domain.ErrInvalidState
	}

	var (
		payouts []domain.Payout
		events  []domain.Event
		failed  error
	)
	m.ledger.forEachInRange(start, count, func(s *domain.Stake) bool {
		if s.Paid {
			return true
		}
		prize := m.stakePrize(s)
		payout, err := m.payOut(ctx, s.Owner, []uint64{s.ID}, prize, domain.PayoutPrize)
		if err != nil {
			failed = err
			return false
		}
		if prize > 0 {
			payouts = append(payouts, payout)
			ev := m.event(domain.EventPrizePaid)
			ev.Owner = s.Owner
			ev.Amount = prize
			ev.StakeID = s.ID
			events = append(events, ev)
		}
		return true
	})
	if failed != nil {
		// Stakes already swept stay paid; the failed stake was unwound, so
		// re-invoking the sweep resumes exactly where it stopped.
		return payouts, events, failed
	}
	return payouts, events, nil
}

// RefundUser lets the operator refund one participant's unpaid stakes on one
// outcome after cancellation.
func (m *Market) RefundUser(ctx context.Context, caller, owner common.Address, outcome domain.Outcome) (domain.Payout, domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOperator(caller); err != nil {
		return domain.Payout{}, domain.Event{}, err
	}
	return m.refundLocked(ctx, owner, &outcome)
}

// GetRefund is the self-service refund: the caller recovers the face value
// of their unpaid stakes on the given outcome.
func (m *Market) GetRefund(ctx context.Context, caller common.Address, outcome domain.Outcome) (domain.Payout, domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refundLocked(ctx, caller, &outcome)
}

func (m *Market) refundLocked(ctx context.Context, owner common.Address, outcome *domain.Outcome) (domain.Payout, domain.Event, error) {
	if m.status != domain.StatusCanceled {
		return domain.Payout{}, domain.Event{}, domain.ErrInvalidState
	}

	var (
		ids    []uint64
		amount int64
	)
	for _, id := range m.ledger.stakesOf(owner) {
		s, _ := m.ledger.get(id)
		if s == nil || s.Paid {
			continue
		}
		if outcome != nil && s.Outcome.Key() != outcome.Key() {
			continue
		}
		ids = append(ids, id)
		amount += s.Amount
	}
	if len(ids) == 0 {
		return domain.Payout{}, domain.Event{}, domain.ErrNothingToRefund
	}

	payout, err := m.payOut(ctx, owner, ids, amount, domain.PayoutRefund)
	if err != nil {
		return domain.Payout{}, domain.Event{}, err
	}

	ev := m.event(domain.EventStakeRefunded)
	ev.Owner = owner
	ev.Amount = amount
	if outcome != nil {
		o := *outcome
		ev.Outcome = &o
	}
	return payout, ev, nil
}

// RefundAllUsers refunds every unpaid stake at face value after
// cancellation, one transfer per stake, in placement order.
func (m *Market) RefundAllUsers(ctx context.Context, caller common.Address) ([]domain.Payout, []domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOperator(caller); err != nil {
		return nil, nil, err
	}
	if m.status != domain.StatusCanceled {
		return nil, nil, domain.ErrInvalidState
	}

	var (
		payouts []domain.Payout
		events  []domain.Event
		failed  error
	)
	m.ledger.forEachInRange(0, m.ledger.len(), func(s *domain.Stake) bool {
		if s.Paid {
			return true
		}
		payout, err := m.payOut(ctx, s.Owner, []uint64{s.ID}, s.Amount, domain.PayoutRefund)
		if err != nil {
			failed = err
			return false
		}
		payouts = append(payouts, payout)
		ev := m.event(domain.EventStakeRefunded)
		ev.Owner = s.Owner
		ev.Amount = s.Amount
		o := s.Outcome
		ev.Outcome = &o
		ev.StakeID = s.ID
		events = append(events, ev)
		return true
	})
	if failed != nil {
		return payouts, events, failed
	}
	return payouts, events, nil
}

// UnpaidTotal sums the amounts of all unpaid stakes. While the market is
// live it always equals TokenPool and the escrow balance on the token
// ledger.
func (m *Market) UnpaidTotal() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.unpaidTotal()
}

// ResolvedAt returns when the market resolved, if it has.
func (m *Market) ResolvedAt() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolvedAt == nil {
		return time.Time{}, false
	}
	return *m.resolvedAt, true
}
