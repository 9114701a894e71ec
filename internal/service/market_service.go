// Package service contains the application services that sit between the
// transport layer and the settlement core. Services orchestrate the in-memory
// market aggregates against the persistent store, cache, signal bus, and
// object storage.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marketpool/settlement/internal/domain"
	"github.com/marketpool/settlement/internal/market"
	"github.com/marketpool/settlement/internal/oracle"
)

// Bus channels for market and stake events.
const (
	ChannelMarkets = "markets"
	ChannelStakes  = "stakes"
)

// CreateMarketRequest carries the parameters for a new market.
type CreateMarketRequest struct {
	Name           string
	Kind           domain.MarketKind
	Mode           domain.PrizeMode
	Operator       common.Address
	OracleAddr     common.Address
	StakeBuyingEnd time.Time
	MarketEnd      time.Time
}

// MarketService handles market creation, lifecycle management, and staking.
// Live markets are held in the registry; every mutation is mirrored into the
// persistent store so restarted instances and API readers see current state.
type MarketService struct {
	registry *market.Registry
	oracles  *oracle.Directory
	token    domain.TokenLedger
	markets  domain.MarketStore
	stakes   domain.StakeStore
	cache    domain.MarketCache
	bus      domain.SignalBus
	logger   *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	registry *market.Registry,
	oracles *oracle.Directory,
	token domain.TokenLedger,
	markets domain.MarketStore,
	stakes domain.StakeStore,
	cache domain.MarketCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		registry: registry,
		oracles:  oracles,
		token:    token,
		markets:  markets,
		stakes:   stakes,
		cache:    cache,
		bus:      bus,
		logger:   logger,
	}
}

// CreateMarket constructs a new market against a known oracle and records it.
func (s *MarketService) CreateMarket(ctx context.Context, req CreateMarketRequest) (domain.Market, error) {
	orc, err := s.oracles.Get(req.OracleAddr)
	if err != nil {
		return domain.Market{}, domain.ErrInvalidOracle
	}

	m, err := market.New(market.Config{
		Name:           req.Name,
		Kind:           req.Kind,
		Mode:           req.Mode,
		Operator:       req.Operator,
		OracleAddr:     orc.Address(),
		Oracle:         orc,
		Token:          s.token,
		StakeBuyingEnd: req.StakeBuyingEnd,
		MarketEnd:      req.MarketEnd,
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	if err := s.registry.Add(m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: register %q: %w", m.ID(), err)
	}

	snap := m.Snapshot()
	if err := s.markets.Upsert(ctx, snap); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: persist %q: %w", m.ID(), err)
	}

	s.publish(ctx, ChannelMarkets, domain.Event{
		Type:     domain.EventMarketCreated,
		MarketID: m.ID(),
		Owner:    req.Operator,
		At:       snap.CreatedAt,
	})

	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", m.ID()),
		slog.String("name", req.Name),
		slog.String("kind", string(snap.Kind)),
		slog.String("mode", string(snap.Mode)),
	)

	return snap, nil
}

// AddOutcome appends a discrete outcome label to an initializing market and
// returns the assigned outcome id.
func (s *MarketService) AddOutcome(ctx context.Context, marketID string, caller common.Address, label string) (uint32, error) {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return 0, fmt.Errorf("market_service: get %q: %w", marketID, err)
	}

	id, evt, err := m.AddOutcome(caller, label)
	if err != nil {
		return 0, fmt.Errorf("market_service: add outcome: %w", err)
	}

	s.persist(ctx, m)
	s.publish(ctx, ChannelMarkets, evt)
	return id, nil
}

// Publish moves a market into the Published state, opening it for stakes.
func (s *MarketService) Publish(ctx context.Context, marketID string, caller common.Address) (domain.Market, error) {
	return s.transition(ctx, marketID, "publish", func(m *market.Market) (domain.Event, error) {
		return m.Publish(caller)
	})
}

// Pause suspends staking on a published market.
func (s *MarketService) Pause(ctx context.Context, marketID string, caller common.Address) (domain.Market, error) {
	return s.transition(ctx, marketID, "pause", func(m *market.Market) (domain.Event, error) {
		return m.Pause(caller)
	})
}

// Cancel moves a market into the terminal Canceled state; stakeholders can
// then reclaim their stakes through the refund operations.
func (s *MarketService) Cancel(ctx context.Context, marketID string, caller common.Address) (domain.Market, error) {
	return s.transition(ctx, marketID, "cancel", func(m *market.Market) (domain.Event, error) {
		return m.Cancel(caller)
	})
}

func (s *MarketService) transition(ctx context.Context, marketID, verb string, op func(*market.Market) (domain.Event, error)) (domain.Market, error) {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %q: %w", marketID, err)
	}

	evt, err := op(m)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: %s %q: %w", verb, marketID, err)
	}

	s.persist(ctx, m)
	s.publish(ctx, ChannelMarkets, evt)

	snap := m.Snapshot()
	s.logger.InfoContext(ctx, "market_service: state changed",
		slog.String("market_id", marketID),
		slog.String("status", snap.StatusName),
	)
	return snap, nil
}

// SetStakeBuyingEnd moves the staking deadline of a non-published market.
func (s *MarketService) SetStakeBuyingEnd(ctx context.Context, marketID string, caller common.Address, t time.Time) error {
	return s.mutate(ctx, marketID, "set stake buying end", func(m *market.Market) error {
		return m.SetStakeBuyingEnd(caller, t)
	})
}

// SetMarketEnd moves the market end of a non-published market.
func (s *MarketService) SetMarketEnd(ctx context.Context, marketID string, caller common.Address, t time.Time) error {
	return s.mutate(ctx, marketID, "set market end", func(m *market.Market) error {
		return m.SetMarketEnd(caller, t)
	})
}

// SetName renames a non-published market.
func (s *MarketService) SetName(ctx context.Context, marketID string, caller common.Address, name string) error {
	return s.mutate(ctx, marketID, "set name", func(m *market.Market) error {
		return m.SetName(caller, name)
	})
}

// SetOracle rebinds a non-published market to another oracle from the
// directory.
func (s *MarketService) SetOracle(ctx context.Context, marketID string, caller, oracleAddr common.Address) error {
	orc, err := s.oracles.Get(oracleAddr)
	if err != nil {
		return domain.ErrInvalidOracle
	}
	return s.mutate(ctx, marketID, "set oracle", func(m *market.Market) error {
		return m.SetOracle(caller, orc.Address(), orc)
	})
}

func (s *MarketService) mutate(ctx context.Context, marketID, verb string, op func(*market.Market) error) error {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return fmt.Errorf("market_service: get %q: %w", marketID, err)
	}
	if err := op(m); err != nil {
		return fmt.Errorf("market_service: %s %q: %w", verb, marketID, err)
	}
	s.persist(ctx, m)
	return nil
}

// PlaceStake buys a stake on an outcome of a published market. The token
// transfer into escrow happens inside the aggregate before the ledger entry
// is committed.
func (s *MarketService) PlaceStake(ctx context.Context, marketID string, owner common.Address, amount int64, outcome domain.Outcome) (domain.Stake, error) {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return domain.Stake{}, fmt.Errorf("market_service: get %q: %w", marketID, err)
	}

	st, evt, err := m.Stake(ctx, owner, amount, outcome)
	if err != nil {
		return domain.Stake{}, fmt.Errorf("market_service: stake on %q: %w", marketID, err)
	}

	// The ledger entry is committed; a store failure here must not undo it.
	if insErr := s.stakes.Insert(ctx, st); insErr != nil {
		s.logger.ErrorContext(ctx, "market_service: stake persist failed",
			slog.String("market_id", marketID),
			slog.Uint64("stake_id", st.ID),
			slog.String("error", insErr.Error()),
		)
	}
	s.persist(ctx, m)
	s.publish(ctx, ChannelStakes, evt)

	s.logger.InfoContext(ctx, "market_service: stake placed",
		slog.String("market_id", marketID),
		slog.Uint64("stake_id", st.ID),
		slog.Int64("amount", amount),
	)
	return st, nil
}

// GetMarket retrieves a market snapshot, checking the cache first, then the
// live registry, and finally the persistent store.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if m, err := s.cache.Get(ctx, id); err == nil {
		return m, nil
	}

	if live, err := s.registry.Get(id); err == nil {
		snap := live.Snapshot()
		if cacheErr := s.cache.Set(ctx, snap); cacheErr != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.String("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
		return snap, nil
	}

	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by id %q: %w", id, err)
	}
	return m, nil
}

// ListMarkets returns market snapshots from the persistent store.
func (s *MarketService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// ListByStatus returns market snapshots in the given lifecycle state.
func (s *MarketService) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListByStatus(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list by status: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets in the persistent store.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return count, nil
}

// ListStakes returns a page of a market's stake ledger. Live markets are read
// from the registry; settled or evicted ones fall back to the store.
func (s *MarketService) ListStakes(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Stake, error) {
	if _, err := s.registry.Get(marketID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("market_service: get %q: %w", marketID, err)
		}
	}
	stakes, err := s.stakes.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list stakes %q: %w", marketID, err)
	}
	return stakes, nil
}

// StakesOf returns every stake a holder owns on a market.
func (s *MarketService) StakesOf(ctx context.Context, marketID string, owner common.Address) ([]domain.Stake, error) {
	if m, err := s.registry.Get(marketID); err == nil {
		return m.StakesOf(owner), nil
	}
	stakes, err := s.stakes.ListByOwner(ctx, marketID, owner)
	if err != nil {
		return nil, fmt.Errorf("market_service: stakes of %q: %w", marketID, err)
	}
	return stakes, nil
}

// persist mirrors the aggregate's snapshot into the store and drops the
// cached copy. Both failures are logged and swallowed; the registry remains
// the source of truth for live markets.
func (s *MarketService) persist(ctx context.Context, m *market.Market) {
	snap := m.Snapshot()
	if err := s.markets.Upsert(ctx, snap); err != nil {
		s.logger.ErrorContext(ctx, "market_service: upsert failed",
			slog.String("market_id", snap.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.cache.Invalidate(ctx, snap.ID); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.String("market_id", snap.ID),
			slog.String("error", err.Error()),
		)
		// Non-fatal: the cache will eventually expire on its own.
	}
}

func (s *MarketService) publish(ctx context.Context, channel string, evt domain.Event) {
	payload, _ := json.Marshal(evt)
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "market_service: event publish failed",
			slog.String("channel", channel),
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
}
