package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marketpool/settlement/internal/domain"
	"github.com/marketpool/settlement/internal/oracle"
)

// OracleInfo is the API view of an oracle.
type OracleInfo struct {
	Name     string         `json:"name"`
	Address  common.Address `json:"address"`
	Operator common.Address `json:"operator"`
}

// OracleService manages the oracle directory and relays outcome reports.
type OracleService struct {
	oracles *oracle.Directory
	logger  *slog.Logger
}

// NewOracleService creates an OracleService.
func NewOracleService(oracles *oracle.Directory, logger *slog.Logger) *OracleService {
	return &OracleService{oracles: oracles, logger: logger}
}

// CreateOracle spins up a new oracle under the given operator.
func (s *OracleService) CreateOracle(ctx context.Context, name string, operator common.Address) (OracleInfo, error) {
	if name == "" {
		return OracleInfo{}, domain.ErrInvalidName
	}
	o := s.oracles.Create(name, operator)

	s.logger.InfoContext(ctx, "oracle_service: oracle created",
		slog.String("name", name),
		slog.String("address", o.Address().Hex()),
	)
	return OracleInfo{Name: o.Name(), Address: o.Address(), Operator: operator}, nil
}

// RegisterMarket puts a market on an oracle's books so it can later receive
// an outcome report.
func (s *OracleService) RegisterMarket(ctx context.Context, oracleAddr common.Address, marketID string) error {
	o, err := s.oracles.Get(oracleAddr)
	if err != nil {
		return fmt.Errorf("oracle_service: get %s: %w", oracleAddr.Hex(), err)
	}
	if err := o.Register(ctx, marketID); err != nil {
		return fmt.Errorf("oracle_service: register %q: %w", marketID, err)
	}
	return nil
}

// UnregisterMarket removes a market from an oracle's books.
func (s *OracleService) UnregisterMarket(ctx context.Context, oracleAddr common.Address, marketID string) error {
	o, err := s.oracles.Get(oracleAddr)
	if err != nil {
		return fmt.Errorf("oracle_service: get %s: %w", oracleAddr.Hex(), err)
	}
	if err := o.Unregister(ctx, marketID); err != nil {
		return fmt.Errorf("oracle_service: unregister %q: %w", marketID, err)
	}
	return nil
}

// SetOutcome records the one authoritative outcome for a registered market.
func (s *OracleService) SetOutcome(ctx context.Context, oracleAddr, caller common.Address, marketID string, outcome int64) error {
	o, err := s.oracles.Get(oracleAddr)
	if err != nil {
		return fmt.Errorf("oracle_service: get %s: %w", oracleAddr.Hex(), err)
	}
	if err := o.SetOutcome(ctx, caller, marketID, outcome); err != nil {
		return fmt.Errorf("oracle_service: set outcome %q: %w", marketID, err)
	}

	s.logger.InfoContext(ctx, "oracle_service: outcome reported",
		slog.String("oracle", oracleAddr.Hex()),
		slog.String("market_id", marketID),
		slog.Int64("outcome", outcome),
	)
	return nil
}

// ListOracles returns every oracle in the directory.
func (s *OracleService) ListOracles(ctx context.Context) []OracleInfo {
	all := s.oracles.List()
	out := make([]OracleInfo, 0, len(all))
	for _, o := range all {
		out = append(out, OracleInfo{Name: o.Name(), Address: o.Address(), Operator: o.Operator()})
	}
	return out
}
