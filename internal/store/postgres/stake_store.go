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

// StakeStore implements domain.StakeStore using PostgreSQL. The stake ledger
// is append-only; the only update ever applied is flipping the paid flag.
type StakeStore struct {
	pool *pgxpool.Pool
}

// NewStakeStore creates a new StakeStore backed by the given connection pool.
func NewStakeStore(pool *pgxpool.Pool) *StakeStore {
	return &StakeStore{pool: pool}
}

// Insert appends one stake to the ledger.
func (s *StakeStore) Insert(ctx context.Context, st domain.Stake) error {
	const query = `
		INSERT INTO stakes (market_id, stake_id, owner, outcome, amount, paid, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (market_id, stake_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		st.MarketID, int64(st.ID), st.Owner.Hex(), st.Outcome,
		st.Amount, st.Paid, st.PlacedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert stake %s/%d: %w", st.MarketID, st.ID, err)
	}
	return nil
}

// MarkPaid flips the paid flag for the given stakes in one statement.
func (s *StakeStore) MarkPaid(ctx context.Context, marketID string, stakeIDs []uint64) error {
	if len(stakeIDs) == 0 {
		return nil
	}

	ids := make([]int64, len(stakeIDs))
	for i, id := range stakeIDs {
		ids[i] = int64(id)
	}

	const query = `UPDATE stakes SET paid = TRUE WHERE market_id = $1 AND stake_id = ANY($2)`
	if _, err := s.pool.Exec(ctx, query, marketID, ids); err != nil {
		return fmt.Errorf("postgres: mark paid %s: %w", marketID, err)
	}
	return nil
}

func scanStake(row pgx.Row) (domain.Stake, error) {
	var (
		st      domain.Stake
		stakeID int64
		owner   string
	)
	err := row.Scan(&st.MarketID, &stakeID, &owner, &st.Outcome, &st.Amount, &st.Paid, &st.PlacedAt)
	if err != nil {
		return domain.Stake{}, err
	}
	st.ID = uint64(stakeID)
	st.Owner = common.HexToAddress(owner)
	return st, nil
}

const stakeCols = `market_id, stake_id, owner, outcome, amount, paid, placed_at`

// GetByID retrieves a single stake.
func (s *StakeStore) GetByID(ctx context.Context, marketID string, stakeID uint64) (domain.Stake, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stakeCols+` FROM stakes WHERE market_id = $1 AND stake_id = $2`,
		marketID, int64(stakeID),
	)
	st, err := scanStake(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Stake{}, domain.ErrNotFound
		}
		return domain.Stake{}, fmt.Errorf("postgres: get stake %s/%d: %w", marketID, stakeID, err)
	}
	return st, nil
}

// ListByMarket returns a page of a market's ledger in stake id order.
func (s *StakeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Stake, error) {
	query := `SELECT ` + stakeCols + ` FROM stakes WHERE market_id = $1 ORDER BY stake_id`
	args := []any{marketID}
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

	return s.queryStakes(ctx, query, args...)
}

// ListByOwner returns every stake a holder owns on a market, in stake id
// order.
func (s *StakeStore) ListByOwner(ctx context.Context, marketID string, owner common.Address) ([]domain.Stake, error) {
	return s.queryStakes(ctx,
		`SELECT `+stakeCols+` FROM stakes WHERE market_id = $1 AND owner = $2 ORDER BY stake_id`,
		marketID, owner.Hex(),
	)
}

func (s *StakeStore) queryStakes(ctx context.Context, query string, args ...any) ([]domain.Stake, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query stakes: %w", err)
	}
	defer rows.Close()

	var stakes []domain.Stake
	for rows.Next() {
		st, err := scanStake(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan stake: %w", err)
		}
		stakes = append(stakes, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query stakes rows: %w", err)
	}
	return stakes, nil
}

var _ domain.StakeStore = (*StakeStore)(nil)
