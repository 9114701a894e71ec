package service_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marketpool/settlement/internal/domain"
	"github.com/marketpool/settlement/internal/market"
	"github.com/marketpool/settlement/internal/oracle"
	"github.com/marketpool/settlement/internal/service"
	"github.com/marketpool/settlement/internal/token"
)

var (
	operator = common.HexToAddress("0xa0")
	oracleOp = common.HexToAddress("0xa1")
	player1  = common.HexToAddress("0x01")
	player2  = common.HexToAddress("0x02")
)

type fakeMarketStore struct{ upserts int }

func (f *fakeMarketStore) Upsert(ctx context.Context, m domain.Market) error {
	f.upserts++
	return nil
}
func (f *fakeMarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (f *fakeMarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}
func (f *fakeMarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}
func (f *fakeMarketStore) Count(ctx context.Context) (int64, error) { return 0, nil }

type fakeStakeStore struct{}

func (fakeStakeStore) Insert(ctx context.Context, s domain.Stake) error { return nil }
func (fakeStakeStore) MarkPaid(ctx context.Context, marketID string, stakeIDs []uint64) error {
	return nil
}
func (fakeStakeStore) GetByID(ctx context.Context, marketID string, stakeID uint64) (domain.Stake, error) {
	return domain.Stake{}, domain.ErrNotFound
}
func (fakeStakeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Stake, error) {
	return nil, nil
}
func (fakeStakeStore) ListByOwner(ctx context.Context, marketID string, owner common.Address) ([]domain.Stake, error) {
	return nil, nil
}

type fakePayoutStore struct{ inserted []domain.Payout }

func (f *fakePayoutStore) Insert(ctx context.Context, p domain.Payout) error {
	f.inserted = append(f.inserted, p)
	return nil
}
func (f *fakePayoutStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Payout, error) {
	return f.inserted, nil
}

type fakeCache struct{}

func (fakeCache) Set(ctx context.Context, m domain.Market) error { return nil }
func (fakeCache) Get(ctx context.Context, id string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (fakeCache) Invalidate(ctx context.Context, id string) error { return nil }

// recordingBus keeps every published payload, split by delivery mode, so
// tests can assert on both the pub/sub and the stream side.
type recordingBus struct {
	mu      sync.Mutex
	pubsub  map[string][][]byte
	streams map[string][][]byte
}

func newRecordingBus() *recordingBus {
	return &recordingBus{
		pubsub:  make(map[string][][]byte),
		streams: make(map[string][][]byte),
	}
}

func (b *recordingBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubsub[channel] = append(b.pubsub[channel], payload)
	return nil
}

func (b *recordingBus) PublishDurable(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *recordingBus) events(t *testing.T, payloads [][]byte) []domain.Event {
	t.Helper()
	out := make([]domain.Event, 0, len(payloads))
	for _, p := range payloads {
		var evt domain.Event
		if err := json.Unmarshal(p, &evt); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		out = append(out, evt)
	}
	return out
}

type fakeLocks struct{ acquired []string }

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	f.acquired = append(f.acquired, key)
	return func() {}, nil
}

type serviceFixture struct {
	svc     *service.SettlementService
	m       *market.Market
	bus     *recordingBus
	locks   *fakeLocks
	payouts *fakePayoutStore
	ctx     context.Context
}

// newServiceFixture wires a SettlementService over a resolved discrete
// market: player1 staked 1000 on o1 (the winner), player2 2000 on o2.
func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orc := oracle.New("test oracle", oracleOp)
	tok := token.NewLedger()
	ctx := context.Background()

	m, err := market.New(market.Config{
		Name:           "test market",
		Kind:           domain.KindDiscrete,
		Mode:           domain.ModeRelative,
		Operator:       operator,
		OracleAddr:     orc.Address(),
		Oracle:         orc,
		Token:          tok,
		StakeBuyingEnd: base.Add(-time.Hour),
		MarketEnd:      base.Add(-time.Hour),
		Now:            func() time.Time { return base },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, label := range []string{"o1", "o2"} {
		if _, _, err := m.AddOutcome(operator, label); err != nil {
			t.Fatalf("AddOutcome(%s): %v", label, err)
		}
	}
	for addr, amount := range map[common.Address]int64{player1: 1000, player2: 2000} {
		tok.Issue(addr, amount)
		tok.Approve(addr, m.Escrow(), amount)
	}

	// Stake inside the window, then let the deadline pass.
	if err := m.SetStakeBuyingEnd(operator, base.Add(time.Hour)); err != nil {
		t.Fatalf("SetStakeBuyingEnd: %v", err)
	}
	if err := m.SetMarketEnd(operator, base.Add(time.Hour)); err != nil {
		t.Fatalf("SetMarketEnd: %v", err)
	}
	if _, err := m.Publish(operator); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, _, err := m.Stake(ctx, player1, 1000, domain.DiscreteOutcome(1)); err != nil {
		t.Fatalf("Stake(player1): %v", err)
	}
	if _, _, err := m.Stake(ctx, player2, 2000, domain.DiscreteOutcome(2)); err != nil {
		t.Fatalf("Stake(player2): %v", err)
	}
	if _, err := m.Pause(operator); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	past := base.Add(-time.Hour)
	if err := m.SetStakeBuyingEnd(operator, past); err != nil {
		t.Fatalf("SetStakeBuyingEnd: %v", err)
	}
	if err := m.SetMarketEnd(operator, past); err != nil {
		t.Fatalf("SetMarketEnd: %v", err)
	}
	if _, err := m.Publish(operator); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if err := orc.Register(ctx, m.ID()); err != nil {
		t.Fatalf("oracle register: %v", err)
	}
	if err := orc.SetOutcome(ctx, oracleOp, m.ID(), 1); err != nil {
		t.Fatalf("oracle set outcome: %v", err)
	}

	registry := market.NewRegistry()
	if err := registry.Add(m); err != nil {
		t.Fatalf("registry add: %v", err)
	}

	bus := newRecordingBus()
	locks := &fakeLocks{}
	payouts := &fakePayoutStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewSettlementService(
		registry, &fakeMarketStore{}, fakeStakeStore{}, payouts,
		fakeCache{}, bus, locks, nil, logger,
	)

	return &serviceFixture{svc: svc, m: m, bus: bus, locks: locks, payouts: payouts, ctx: ctx}
}

func TestResolvePublishesToChannelAndStream(t *testing.T) {
	f := newServiceFixture(t)

	snap, err := f.svc.Resolve(f.ctx, f.m.ID(), operator)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if snap.Status != domain.StatusResolved {
		t.Fatalf("status = %v, want Resolved", snap.StatusName)
	}
	if len(f.locks.acquired) != 1 || f.locks.acquired[0] != "settle:"+f.m.ID() {
		t.Fatalf("acquired locks = %v, want [settle:%s]", f.locks.acquired, f.m.ID())
	}

	pubsub := f.bus.events(t, f.bus.pubsub[service.ChannelSettlement])
	if len(pubsub) != 1 || pubsub[0].Type != domain.EventMarketResolved {
		t.Fatalf("pub/sub events = %+v, want one market_resolved", pubsub)
	}
	stream := f.bus.events(t, f.bus.streams[service.StreamSettlement])
	if len(stream) != 1 || stream[0].Type != domain.EventMarketResolved {
		t.Fatalf("stream events = %+v, want one market_resolved", stream)
	}
}

func TestWithdrawAppendsDurableEvent(t *testing.T) {
	f := newServiceFixture(t)

	if _, err := f.svc.Resolve(f.ctx, f.m.ID(), operator); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	p, err := f.svc.WithdrawPrize(f.ctx, f.m.ID(), player1)
	if err != nil {
		t.Fatalf("WithdrawPrize: %v", err)
	}
	// Sole winner takes the whole 3000 pool.
	if p.Amount != 3000 {
		t.Fatalf("payout = %d, want 3000", p.Amount)
	}
	if len(f.payouts.inserted) != 1 {
		t.Fatalf("recorded payouts = %d, want 1", len(f.payouts.inserted))
	}

	stream := f.bus.events(t, f.bus.streams[service.StreamSettlement])
	if len(stream) != 2 {
		t.Fatalf("stream events = %d, want 2 (resolved + prize_paid)", len(stream))
	}
	if stream[1].Type != domain.EventPrizePaid || stream[1].Amount != 3000 {
		t.Fatalf("stream[1] = %+v, want prize_paid of 3000", stream[1])
	}
}
