package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketpool/settlement/internal/domain"
)

// PayoutStore implements domain.PayoutStore using PostgreSQL. Payouts form
// the append-only audit trail of every funds-out transfer.
type PayoutStore struct {
	pool *pgxpool.Pool
}

// NewPayoutStore creates a new PayoutStore backed by the given connection pool.
func NewPayoutStore(pool *pgxpool.Pool) *PayoutStore {
	return &PayoutStore{pool: pool}
}

// Insert records one payout.
func (s *PayoutStore) Insert(ctx context.Context, p domain.Payout) error {
	ids := make([]int64, len(p.StakeIDs))
	for i, id := range p.StakeIDs {
		ids[i] = int64(id)
	}

	const query = `
		INSERT INTO payouts (id, market_id, owner, kind, amount, stake_ids, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.MarketID, p.Owner.Hex(), string(p.Kind), p.Amount, ids, p.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert payout %s: %w", p.ID, err)
	}
	return nil
}

// ListByMarket returns a market's payout history in payment order.
func (s *PayoutStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Payout, error) {
	query := `
		SELECT id, market_id, owner, kind, amount, stake_ids, paid_at
		FROM payouts WHERE market_id = $1 ORDER BY paid_at, id`
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

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query payouts: %w", err)
	}
	defer rows.Close()

	var payouts []domain.Payout
	for rows.Next() {
		var (
			p     domain.Payout
			owner string
			kind  string
			ids   []int64
		)
		if err := rows.Scan(&p.ID, &p.MarketID, &owner, &kind, &p.Amount, &ids, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("postgres: scan payout: %w", err)
		}
		p.Owner = common.HexToAddress(owner)
		p.Kind = domain.PayoutKind(kind)
		p.StakeIDs = make([]uint64, len(ids))
		for i, id := range ids {
			p.StakeIDs[i] = uint64(id)
		}
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query payouts rows: %w", err)
	}
	return payouts, nil
}

var _ domain.PayoutStore = (*PayoutStore)(nil)
