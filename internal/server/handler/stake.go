package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marketpool/settlement/internal/domain"
)

// StakeService defines the staking methods the handler needs.
type StakeService interface {
	PlaceStake(ctx context.Context, marketID string, owner common.Address, amount int64, outcome domain.Outcome) (domain.Stake, error)
	ListStakes(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Stake, error)
	StakesOf(ctx context.Context, marketID string, owner common.Address) ([]domain.Stake, error)
}

// StakeHandler serves stake placement and ledger query endpoints.
type StakeHandler struct {
	stakes StakeService
	logger *slog.Logger
}

// NewStakeHandler creates a StakeHandler with the given service and logger.
func NewStakeHandler(stakes StakeService, logger *slog.Logger) *StakeHandler {
	return &StakeHandler{
		stakes: stakes,
		logger: logger,
	}
}

type placeStakeRequest struct {
	Owner   string         `json:"owner"`
	Amount  int64          `json:"amount"`
	Outcome domain.Outcome `json:"outcome"`
}

// PlaceStake buys a stake on one outcome of a published market.
// POST /api/markets/{id}/stakes
func (h *StakeHandler) PlaceStake(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req placeStakeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.stakes.PlaceStake(r.Context(), id, owner, req.Amount, req.Outcome)
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to place stake")
		return
	}

	writeJSON(w, http.StatusCreated, st)
}

// listStakesResponse wraps the stake list output.
type listStakesResponse struct {
	Stakes []domain.Stake `json:"stakes"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ListStakes returns a page of a market's stake ledger, or every stake of one
// holder when the owner query parameter is present.
// GET /api/markets/{id}/stakes?owner=0x...&limit=50&offset=0
func (h *StakeHandler) ListStakes(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if ownerParam := r.URL.Query().Get("owner"); ownerParam != "" {
		owner, err := parseAddress(ownerParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		stakes, err := h.stakes.StakesOf(r.Context(), id, owner)
		if err != nil {
			writeDomainError(h.logger, w, r, err, "failed to list stakes")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stakes": stakes, "owner": owner})
		return
	}

	opts := parseListOpts(r)
	stakes, err := h.stakes.ListStakes(r.Context(), id, opts)
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to list stakes")
		return
	}

	writeJSON(w, http.StatusOK, listStakesResponse{
		Stakes: stakes,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}
