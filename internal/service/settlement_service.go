package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marketpool/settlement/internal/domain"
	"github.com/marketpool/settlement/internal/market"
)

// ChannelSettlement carries resolution, payout, and refund events.
// StreamSettlement is the durable counterpart: the same events appended to a
// Redis stream so reconcilers can replay them after an outage.
const (
	ChannelSettlement = "settlement"
	StreamSettlement  = "settlement:events"
)

// settleLockTTL bounds how long a resolve or sweep may hold the per-market
// lock before it is reclaimable.
const settleLockTTL = 30 * time.Second

// SettlementService drives resolution, prize payment, and refunds. Operator
// sweeps and resolution take a cross-instance per-market lock; holder-facing
// withdrawals rely on the aggregate's own mutex.
type SettlementService struct {
	registry *market.Registry
	markets  domain.MarketStore
	stakes   domain.StakeStore
	payouts  domain.PayoutStore
	cache    domain.MarketCache
	bus      domain.SignalBus
	locks    domain.LockManager
	archive  domain.BlobWriter
	logger   *slog.Logger
}

// NewSettlementService creates a SettlementService with all required
// dependencies. archive may be nil when ledger archival is disabled.
func NewSettlementService(
	registry *market.Registry,
	markets domain.MarketStore,
	stakes domain.StakeStore,
	payouts domain.PayoutStore,
	cache domain.MarketCache,
	bus domain.SignalBus,
	locks domain.LockManager,
	archive domain.BlobWriter,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		registry: registry,
		markets:  markets,
		stakes:   stakes,
		payouts:  payouts,
		cache:    cache,
		bus:      bus,
		locks:    locks,
		archive:  archive,
		logger:   logger,
	}
}

// Resolve settles a published market against its oracle's reported outcome
// and freezes the distribution base.
func (s *SettlementService) Resolve(ctx context.Context, marketID string, caller common.Address) (domain.Market, error) {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement_service: get %q: %w", marketID, err)
	}

	unlock, err := s.locks.Acquire(ctx, "settle:"+marketID, settleLockTTL)
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement_service: lock %q: %w", marketID, err)
	}
	defer unlock()

	evt, err := m.Resolve(ctx, caller)
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement_service: resolve %q: %w", marketID, err)
	}

	s.persist(ctx, m)
	s.publish(ctx, evt)

	snap := m.Snapshot()
	s.logger.InfoContext(ctx, "settlement_service: market resolved",
		slog.String("market_id", marketID),
		slog.Int64("pool", snap.TokenPool),
	)
	return snap, nil
}

// Entitlement returns the total prize a holder can still withdraw from a
// resolved market.
func (s *SettlementService) Entitlement(ctx context.Context, marketID string, owner common.Address) (int64, error) {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return 0, fmt.Errorf("settlement_service: get %q: %w", marketID, err)
	}
	amount, err := m.Entitlement(owner)
	if err != nil {
		return 0, fmt.Errorf("settlement_service: entitlement on %q: %w", marketID, err)
	}
	return amount, nil
}

// WithdrawPrize pays the caller their full unpaid winnings on a resolved
// market.
func (s *SettlementService) WithdrawPrize(ctx context.Context, marketID string, caller common.Address) (domain.Payout, error) {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return domain.Payout{}, fmt.Errorf("settlement_service: get %q: %w", marketID, err)
	}

	p, evt, err := m.WithdrawPrize(ctx, caller)
	if err != nil {
		return domain.Payout{}, fmt.Errorf("settlement_service: withdraw on %q: %w", marketID, err)
	}

	s.record(ctx, m, p, evt)
	return p, nil
}

// WithdrawPrizesBulk pays the caller the winnings of a window of their own
// stakes, so a holder with a very large position can drain it in chunks.
func (s *SettlementService) WithdrawPrizesBulk(ctx context.Context, marketID string, caller common.Address, start, count uint64) (domain.Payout, error) {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return domain.Payout{}, fmt.Errorf("settlement_service: get %q: %w", marketID, err)
	}

	p, evt, err := m.WithdrawPrizesBulk(ctx, caller, start, count)
	if err != nil {
		return domain.Payout{}, fmt.Errorf("settlement_service: withdraw bulk on %q: %w", marketID, err)
	}

	s.record(ctx, m, p, evt)
	return p, nil
}

// PayAllPrizes pushes winnings to every unpaid stake of a resolved market.
func (s *SettlementService) PayAllPrizes(ctx context.Context, marketID string, caller common.Address) ([]domain.Payout, error) {
	return s.sweep(ctx, marketID, "pay all", func(m *market.Market) ([]domain.Payout, []domain.Event, error) {
		return m.PayAllPrizes(ctx, caller)
	})
}

// PayAllPrizesBulk pushes winnings for a window of the global stake ledger.
// Repeating a window is safe; already-paid stakes are skipped.
func (s *SettlementService) PayAllPrizesBulk(ctx context.Context, marketID string, caller common.Address, start, count uint64) ([]domain.Payout, error) {
	return s.sweep(ctx, marketID, "pay all bulk", func(m *market.Market) ([]domain.Payout, []domain.Event, error) {
		return m.PayAllPrizesBulk(ctx, caller, start, count)
	})
}

// GetRefund returns the caller's stakes on one outcome of a canceled market.
func (s *SettlementService) GetRefund(ctx context.Context, marketID string, caller common.Address, outcome domain.Outcome) (domain.Payout, error) {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return domain.Payout{}, fmt.Errorf("settlement_service: get %q: %w", marketID, err)
	}

	p, evt, err := m.GetRefund(ctx, caller, outcome)
	if err != nil {
		return domain.Payout{}, fmt.Errorf("settlement_service: refund on %q: %w", marketID, err)
	}

	s.record(ctx, m, p, evt)
	return p, nil
}

// RefundUser lets the operator push one holder's stakes on one outcome back
// to them after cancellation.
func (s *SettlementService) RefundUser(ctx context.Context, marketID string, caller, owner common.Address, outcome domain.Outcome) (domain.Payout, error) {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return domain.Payout{}, fmt.Errorf("settlement_service: get %q: %w", marketID, err)
	}

	p, evt, err := m.RefundUser(ctx, caller, owner, outcome)
	if err != nil {
		return domain.Payout{}, fmt.Errorf("settlement_service: refund user on %q: %w", marketID, err)
	}

	s.record(ctx, m, p, evt)
	return p, nil
}

// RefundAllUsers pushes every unpaid stake of a canceled market back to its
// owner.
func (s *SettlementService) RefundAllUsers(ctx context.Context, marketID string, caller common.Address) ([]domain.Payout, error) {
	return s.sweep(ctx, marketID, "refund all", func(m *market.Market) ([]domain.Payout, []domain.Event, error) {
		return m.RefundAllUsers(ctx, caller)
	})
}

// ListPayouts returns a market's payout history from the persistent store.
func (s *SettlementService) ListPayouts(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Payout, error) {
	payouts, err := s.payouts.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: list payouts %q: %w", marketID, err)
	}
	return payouts, nil
}

func (s *SettlementService) sweep(ctx context.Context, marketID, verb string, op func(*market.Market) ([]domain.Payout, []domain.Event, error)) ([]domain.Payout, error) {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: get %q: %w", marketID, err)
	}

	unlock, err := s.locks.Acquire(ctx, "settle:"+marketID, settleLockTTL)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: lock %q: %w", marketID, err)
	}
	defer unlock()

	payouts, events, err := op(m)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: %s on %q: %w", verb, marketID, err)
	}

	for i, p := range payouts {
		s.recordPayout(ctx, p)
		s.publish(ctx, events[i])
	}
	s.persist(ctx, m)
	s.maybeArchive(ctx, m)

	s.logger.InfoContext(ctx, "settlement_service: sweep done",
		slog.String("market_id", marketID),
		slog.String("op", verb),
		slog.Int("payouts", len(payouts)),
		slog.Int64("pool", m.TokenPool()),
	)
	return payouts, nil
}

// record durably notes a single payout after the funds have moved. Store
// failures are logged, not returned; the token transfer is already final and
// the in-memory ledger carries the paid flags.
func (s *SettlementService) record(ctx context.Context, m *market.Market, p domain.Payout, evt domain.Event) {
	s.recordPayout(ctx, p)
	s.persist(ctx, m)
	s.publish(ctx, evt)
	s.maybeArchive(ctx, m)
}

func (s *SettlementService) recordPayout(ctx context.Context, p domain.Payout) {
	if err := s.payouts.Insert(ctx, p); err != nil {
		s.logger.ErrorContext(ctx, "settlement_service: payout persist failed",
			slog.String("market_id", p.MarketID),
			slog.String("payout_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
	if len(p.StakeIDs) > 0 {
		if err := s.stakes.MarkPaid(ctx, p.MarketID, p.StakeIDs); err != nil {
			s.logger.ErrorContext(ctx, "settlement_service: mark paid failed",
				slog.String("market_id", p.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *SettlementService) persist(ctx context.Context, m *market.Market) {
	snap := m.Snapshot()
	if err := s.markets.Upsert(ctx, snap); err != nil {
		s.logger.ErrorContext(ctx, "settlement_service: upsert failed",
			slog.String("market_id", snap.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.cache.Invalidate(ctx, snap.ID); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: cache invalidate failed",
			slog.String("market_id", snap.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SettlementService) publish(ctx context.Context, evt domain.Event) {
	payload, _ := json.Marshal(evt)
	if err := s.bus.Publish(ctx, ChannelSettlement, payload); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: event publish failed",
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
	// Money movements also go to the durable stream so a reconciler can
	// replay them after a Pub/Sub outage.
	if err := s.bus.PublishDurable(ctx, StreamSettlement, payload); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: durable append failed",
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// ledgerArchive is the JSON document archived to object storage once a
// terminal market's pool has fully drained.
type ledgerArchive struct {
	Market  domain.Market   `json:"market"`
	Stakes  []domain.Stake  `json:"stakes"`
	Payouts []domain.Payout `json:"payouts"`
}

// maybeArchive uploads the full ledger of a terminal, fully drained market.
// Archival is best-effort; the store remains the durable record.
func (s *SettlementService) maybeArchive(ctx context.Context, m *market.Market) {
	if s.archive == nil {
		return
	}
	snap := m.Snapshot()
	if !snap.Status.Terminal() || m.UnpaidTotal() != 0 {
		return
	}

	stakes, err := s.stakes.ListByMarket(ctx, snap.ID, domain.ListOpts{})
	if err != nil {
		s.logger.WarnContext(ctx, "settlement_service: archive list stakes failed",
			slog.String("market_id", snap.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	payouts, err := s.payouts.ListByMarket(ctx, snap.ID, domain.ListOpts{})
	if err != nil {
		s.logger.WarnContext(ctx, "settlement_service: archive list payouts failed",
			slog.String("market_id", snap.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	doc, err := json.MarshalIndent(ledgerArchive{Market: snap, Stakes: stakes, Payouts: payouts}, "", "  ")
	if err != nil {
		s.logger.WarnContext(ctx, "settlement_service: archive marshal failed",
			slog.String("market_id", snap.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	path := fmt.Sprintf("settled/%s.json", snap.ID)
	if err := s.archive.Put(ctx, path, bytes.NewReader(doc), "application/json"); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: archive upload failed",
			slog.String("market_id", snap.ID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.InfoContext(ctx, "settlement_service: ledger archived",
		slog.String("market_id", snap.ID),
		slog.String("path", path),
	)
}
