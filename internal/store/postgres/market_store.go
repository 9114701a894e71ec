package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketpool/settlement/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Upsert inserts or updates a single market snapshot.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, name, kind, mode, status,
			operator, oracle_addr, escrow, outcomes,
			stake_buying_end, market_end, winning_outcome,
			token_pool, stake_count, created_at, resolved_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			name             = EXCLUDED.name,
			kind             = EXCLUDED.kind,
			mode             = EXCLUDED.mode,
			status           = EXCLUDED.status,
			operator         = EXCLUDED.operator,
			oracle_addr      = EXCLUDED.oracle_addr,
			escrow           = EXCLUDED.escrow,
			outcomes         = EXCLUDED.outcomes,
			stake_buying_end = EXCLUDED.stake_buying_end,
			market_end       = EXCLUDED.market_end,
			winning_outcome  = EXCLUDED.winning_outcome,
			token_pool       = EXCLUDED.token_pool,
			stake_count      = EXCLUDED.stake_count,
			resolved_at      = EXCLUDED.resolved_at,
			updated_at       = NOW()`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Name, string(m.Kind), string(m.Mode), int16(m.Status),
		m.Operator.Hex(), m.OracleAddr.Hex(), m.Escrow.Hex(), m.Outcomes,
		m.StakeBuyingEnd, m.MarketEnd, m.WinningOutcome,
		m.TokenPool, int64(m.StakeCount), m.CreatedAt, m.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

const marketCols = `id, name, kind, mode, status,
	operator, oracle_addr, escrow, outcomes,
	stake_buying_end, market_end, winning_outcome,
	token_pool, stake_count, created_at, resolved_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m          domain.Market
		kind, mode string
		status     int16
		operator   string
		oracleAddr string
		escrow     string
		stakeCount int64
	)
	err := row.Scan(
		&m.ID, &m.Name, &kind, &mode, &status,
		&operator, &oracleAddr, &escrow, &m.Outcomes,
		&m.StakeBuyingEnd, &m.MarketEnd, &m.WinningOutcome,
		&m.TokenPool, &stakeCount, &m.CreatedAt, &m.ResolvedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Kind = domain.MarketKind(kind)
	m.Mode = domain.PrizeMode(mode)
	m.Status = domain.MarketStatus(status)
	m.StatusName = m.Status.String()
	m.Operator = common.HexToAddress(operator)
	m.OracleAddr = common.HexToAddress(oracleAddr)
	m.Escrow = common.HexToAddress(escrow)
	m.StakeCount = uint64(stakeCount)
	return m, nil
}

// GetByID retrieves a market snapshot by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns market snapshots ordered newest first.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets ORDER BY created_at DESC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryMarkets(ctx, query, args...)
}

// ListByStatus returns market snapshots in the given lifecycle state.
func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = $1 ORDER BY created_at DESC`
	args := []any{int16(status)}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryMarkets(ctx, query, args...)
}

func (s *MarketStore) queryMarkets(ctx context.Context, query string, args ...any) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
