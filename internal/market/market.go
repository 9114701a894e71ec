// Package market implements the pari-mutuel settlement core: one aggregate
// per market holding the lifecycle state machine, the stake ledger, pool
// accounting, and the settlement engine. Every mutating call runs under the
// market's mutex, so each call is a whole-market transaction with
// commit-or-abort semantics.
package market

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/marketpool/settlement/internal/domain"
)

// Config carries everything needed to construct a market. Oracle and Token
// are live collaborators; OracleAddr identifies the oracle in snapshots and
// events.
type Config struct {
	Name           string
	Kind           domain.MarketKind
	Mode           domain.PrizeMode
	Operator       common.Address
	OracleAddr     common.Address
	Oracle         domain.Oracle
	Token          domain.TokenLedger
	StakeBuyingEnd time.Time
	MarketEnd      time.Time

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Market is one prediction market aggregate. All funds the market holds sit
// in its escrow account on the token ledger; tokenPool mirrors that balance.
type Market struct {
	mu sync.Mutex

	id         string
	name       string
	kind       domain.MarketKind
	mode       domain.PrizeMode
	operator   common.Address
	oracleAddr common.Address
	oracle     domain.Oracle
	token      domain.TokenLedger
	escrow     common.Address

	status         domain.MarketStatus
	outcomes       []string // discrete labels, id = index+1
	stakeBuyingEnd time.Time
	marketEnd      time.Time

	winning          *domain.Outcome
	resolvedAt       *time.Time
	distributionBase int64 // tokenPool frozen at resolution
	winningTotal     int64 // stake on the winning outcome at resolution

	ledger *stakeLedger
	pool   *poolAccounting

	createdAt time.Time
	now       func() time.Time
}

// New validates cfg and constructs a market in Initializing state. The
// escrow address is derived deterministically from the market id.
func New(cfg Config) (*Market, error) {
	if cfg.Oracle == nil || cfg.OracleAddr == (common.Address{}) {
		return nil, domain.ErrInvalidOracle
	}
	if cfg.StakeBuyingEnd.IsZero() || cfg.MarketEnd.IsZero() {
		return nil, domain.ErrInvalidTiming
	}
	if cfg.MarketEnd.Before(cfg.StakeBuyingEnd) {
		return nil, domain.ErrInvalidTiming
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, domain.ErrInvalidName
	}

	kind := cfg.Kind
	if kind == "" {
		kind = domain.KindDiscrete
	}
	mode := cfg.Mode
	if mode == "" {
		mode = domain.ModeRelative
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	uid := uuid.New()
	m := &Market{
		id:             uid.String(),
		name:           cfg.Name,
		kind:           kind,
		mode:           mode,
		operator:       cfg.Operator,
		oracleAddr:     cfg.OracleAddr,
		oracle:         cfg.Oracle,
		token:          cfg.Token,
		escrow:         common.BytesToAddress(uid[:]),
		status:         domain.StatusInitializing,
		stakeBuyingEnd: cfg.StakeBuyingEnd,
		marketEnd:      cfg.MarketEnd,
		ledger:         newStakeLedger(),
		pool:           newPoolAccounting(),
		createdAt:      now(),
		now:            now,
	}
	return m, nil
}

// ID returns the market identifier.
func (m *Market) ID() string { return m.id }

// Escrow returns the market's escrow account on the token ledger.
func (m *Market) Escrow() common.Address { return m.escrow }

func (m *Market) requireOperator(caller common.Address) error {
	if caller != m.operator {
		return domain.ErrUnauthorized
	}
	return nil
}

func (m *Market) event(t domain.EventType) domain.Event {
	return domain.Event{Type: t, MarketID: m.id, At: m.now()}
}

// AddOutcome declares the next discrete outcome and returns its sequential
// 1-based id. Permitted only while Initializing, and only on discrete
// markets.
func (m *Market) AddOutcome(caller common.Address, label string) (uint32, domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOperator(caller); err != nil {
		return 0, domain.Event{}, err
	}
	if m.status != domain.StatusInitializing || m.kind != domain.KindDiscrete {
		return 0, domain.Event{}, domain.ErrInvalidState
	}
	if strings.TrimSpace(label) == "" {
		return 0, domain.Event{}, domain.ErrInvalidName
	}
	for _, existing := range m.outcomes {
		if existing == label {
			return 0, domain.Event{}, domain.ErrAlreadyExists
		}
	}

	m.outcomes = append(m.outcomes, label)
	id := uint32(len(m.outcomes))

	ev := m.event(domain.EventOutcomeAdded)
	o := domain.DiscreteOutcome(id)
	ev.Outcome = &o
	return id, ev, nil
}

// Publish opens the market for staking. Discrete markets need at least two
// declared outcomes; scalar markets need none.
func (m *Market) Publish(caller common.Address) (domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOperator(caller); err != nil {
		return domain.Event{}, err
	}
	if m.status != domain.StatusInitializing && m.status != domain.StatusPaused {
		return domain.Event{}, domain.ErrInvalidState
	}
	if m.kind == domain.KindDiscrete && len(m.outcomes) < 2 {
		return domain.Event{}, domain.ErrNoOutcomes
	}

	m.status = domain.StatusPublished
	return m.event(domain.EventMarketPublished), nil
}

// Pause halts staking. Only a Published market can pause; the operator may
// republish later.
func (m *Market) Pause(caller common.Address) (domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOperator(caller); err != nil {
		return domain.Event{}, err
	}
	if m.status != domain.StatusPublished {
		return domain.Event{}, domain.ErrInvalidState
	}

	m.status = domain.StatusPaused
	return m.event(domain.EventMarketPaused), nil
}

// Cancel moves the market to its absorbing Canceled state, after which the
// refund paths open. Any non-terminal state may cancel.
func (m *Market) Cancel(caller common.Address) (domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOperator(caller); err != nil {
		return domain.Event{}, err
	}
	if m.status.Terminal() {
		return domain.Event{}, domain.ErrInvalidState
	}

	m.status = domain.StatusCanceled
	return m.event(domain.EventMarketCanceled), nil
}

// configMutable reports whether operator configuration may change.
func (m *Market) configMutable() bool {
	return m.status == domain.StatusInitializing || m.status == domain.StatusPaused
}

// SetStakeBuyingEnd moves the staking deadline. Permitted only while
// Initializing or Paused.
func (m *Market) SetStakeBuyingEnd(caller common.Address, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOperator(caller); err != nil {
		return err
	}
	if !m.configMutable() {
		return domain.ErrInvalidState
	}
	if t.IsZero() {
		return domain.ErrInvalidTiming
	}
	m.stakeBuyingEnd = t
	return nil
}

// SetMarketEnd moves the market end deadline, which must stay at or after
// the staking deadline.
func (m *Market) SetMarketEnd(caller common.Address, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOperator(caller); err != nil {
		return err
	}
	if !m.configMutable() {
		return domain.ErrInvalidState
	}
	if t.IsZero() || t.Before(m.stakeBuyingEnd) {
		return domain.ErrInvalidTiming
	}
	m.marketEnd = t
	return nil
}

// SetName renames the market while Initializing or Paused.
func (m *Market) SetName(caller common.Address, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOperator(caller); err != nil {
		return err
	}
	if !m.configMutable() {
		return domain.ErrInvalidState
	}
	if strings.TrimSpace(name) == "" {
		return domain.ErrInvalidName
	}
	m.name = name
	return nil
}

// SetOracle rebinds the market to a different oracle while Initializing or
// Paused.
func (m *Market) SetOracle(caller common.Address, addr common.Address, oracle domain.Oracle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOperator(caller); err != nil {
		return err
	}
	if !m.configMutable() {
		return domain.ErrInvalidState
	}
	if oracle == nil || addr == (common.Address{}) {
		return domain.ErrInvalidOracle
	}
	m.oracle = oracle
	m.oracleAddr = addr
	return nil
}

// Stake escrows amount from owner against outcome and appends a ledger
// record. All preconditions are checked before the token moves; a failed
// transfer leaves the market untouched.
func (m *Market) Stake(ctx context.Context, owner common.Address, amount int64, outcome domain.Outcome) (domain.Stake, domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if amount <= 0 {
		return domain.Stake{}, domain.Event{}, domain.ErrInvalidAmount
	}
	if err := m.validateOutcome(outcome); err != nil {
		return domain.Stake{}, domain.Event{}, err
	}
	if m.status != domain.StatusPublished || !m.now().Before(m.stakeBuyingEnd) {
		return domain.Stake{}, domain.Event{}, domain.ErrStakingClosed
	}

	if err := m.token.TransferFrom(ctx, owner, m.escrow, amount); err != nil {
		return domain.Stake{}, domain.Event{}, err
	}

	s := m.ledger.append(m.id, owner, outcome, amount, m.now())
	m.pool.onStake(outcome, amount)

	ev := m.event(domain.EventStakePlaced)
	ev.Owner = owner
	ev.Outcome = &s.Outcome
	ev.Amount = amount
	ev.StakeID = s.ID
	return *s, ev, nil
}

// validateOutcome enforces the identifier space of the market's kind:
// discrete markets accept only predeclared ordinals, scalar markets accept
// any integer value.
func (m *Market) validateOutcome(outcome domain.Outcome) error {
	if outcome.Kind != m.kind {
		return domain.ErrUnknownOutcome
	}
	if m.kind == domain.KindDiscrete {
		if outcome.ID == 0 || int(outcome.ID) > len(m.outcomes) {
			return domain.ErrUnknownOutcome
		}
	}
	return nil
}

// Status returns the current lifecycle state.
func (m *Market) Status() domain.MarketStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// TokenPool returns the tokens currently escrowed by the market.
func (m *Market) TokenPool() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.total()
}

// StakeByID returns a copy of one stake record.
func (m *Market) StakeByID(id uint64) (domain.Stake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.ledger.get(id)
	if !ok {
		return domain.Stake{}, domain.ErrNotFound
	}
	return *s, nil
}

// StakesOf returns copies of all stakes owned by owner, in placement order.
func (m *Market) StakesOf(owner common.Address) []domain.Stake {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.ledger.stakesOf(owner)
	out := make([]domain.Stake, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.ledger.get(id); ok {
			out = append(out, *s)
		}
	}
	return out
}

// Snapshot returns the externally visible view of the market.
func (m *Market) Snapshot() domain.Market {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Market) snapshotLocked() domain.Market {
	snap := domain.Market{
		ID:             m.id,
		Name:           m.name,
		Kind:           m.kind,
		Mode:           m.mode,
		Status:         m.status,
		StatusName:     m.status.String(),
		Operator:       m.operator,
		OracleAddr:     m.oracleAddr,
		Escrow:         m.escrow,
		StakeBuyingEnd: m.stakeBuyingEnd,
		MarketEnd:      m.marketEnd,
		TokenPool:      m.pool.total(),
		StakeCount:     m.ledger.len(),
		CreatedAt:      m.createdAt,
	}
	if len(m.outcomes) > 0 {
		snap.Outcomes = append([]string(nil), m.outcomes...)
	}
	if m.winning != nil {
		w := *m.winning
		snap.WinningOutcome = &w
	}
	if m.resolvedAt != nil {
		t := *m.resolvedAt
		snap.ResolvedAt = &t
	}
	return snap
}
