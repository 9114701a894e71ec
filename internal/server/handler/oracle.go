package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marketpool/settlement/internal/service"
)

// OracleService defines the oracle directory methods the handler needs.
type OracleService interface {
	CreateOracle(ctx context.Context, name string, operator common.Address) (service.OracleInfo, error)
	RegisterMarket(ctx context.Context, oracleAddr common.Address, marketID string) error
	UnregisterMarket(ctx context.Context, oracleAddr common.Address, marketID string) error
	SetOutcome(ctx context.Context, oracleAddr, caller common.Address, marketID string, outcome int64) error
	ListOracles(ctx context.Context) []service.OracleInfo
}

// OracleHandler serves oracle management and outcome reporting endpoints.
type OracleHandler struct {
	oracles OracleService
	logger  *slog.Logger
}

// NewOracleHandler creates an OracleHandler with the given service and logger.
func NewOracleHandler(oracles OracleService, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{
		oracles: oracles,
		logger:  logger,
	}
}

type createOracleRequest struct {
	Name     string `json:"name"`
	Operator string `json:"operator"`
}

// CreateOracle creates a new oracle in the directory.
// POST /api/oracles
func (h *OracleHandler) CreateOracle(w http.ResponseWriter, r *http.Request) {
	var req createOracleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	operator, err := parseAddress(req.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := h.oracles.CreateOracle(r.Context(), req.Name, operator)
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to create oracle")
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// ListOracles returns every oracle in the directory.
// GET /api/oracles
func (h *OracleHandler) ListOracles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"oracles": h.oracles.ListOracles(r.Context()),
	})
}

type registrationRequest struct {
	MarketID string `json:"market_id"`
}

// RegisterMarket puts a market on an oracle's books.
// POST /api/oracles/{addr}/register
func (h *OracleHandler) RegisterMarket(w http.ResponseWriter, r *http.Request) {
	h.registration(w, r, "failed to register market", h.oracles.RegisterMarket)
}

// UnregisterMarket removes a market from an oracle's books.
// POST /api/oracles/{addr}/unregister
func (h *OracleHandler) UnregisterMarket(w http.ResponseWriter, r *http.Request) {
	h.registration(w, r, "failed to unregister market", h.oracles.UnregisterMarket)
}

func (h *OracleHandler) registration(w http.ResponseWriter, r *http.Request, fallback string,
	op func(ctx context.Context, oracleAddr common.Address, marketID string) error,
) {
	addr, err := parseAddress(pathParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req registrationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MarketID == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	if err := op(r.Context(), addr, req.MarketID); err != nil {
		writeDomainError(h.logger, w, r, err, fallback)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"market_id": req.MarketID})
}

type setOutcomeRequest struct {
	Caller   string `json:"caller"`
	MarketID string `json:"market_id"`
	Outcome  int64  `json:"outcome"`
}

// SetOutcome records the single authoritative outcome for a registered market.
// POST /api/oracles/{addr}/outcome
func (h *OracleHandler) SetOutcome(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(pathParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req setOutcomeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.oracles.SetOutcome(r.Context(), addr, caller, req.MarketID, req.Outcome); err != nil {
		writeDomainError(h.logger, w, r, err, "failed to set outcome")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": req.MarketID,
		"outcome":   req.Outcome,
	})
}
