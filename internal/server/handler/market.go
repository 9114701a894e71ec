package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marketpool/settlement/internal/domain"
	"github.com/marketpool/settlement/internal/service"
)

// MarketService defines the methods the market handler requires from the
// service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, req service.CreateMarketRequest) (domain.Market, error)
	AddOutcome(ctx context.Context, marketID string, caller common.Address, label string) (uint32, error)
	Publish(ctx context.Context, marketID string, caller common.Address) (domain.Market, error)
	Pause(ctx context.Context, marketID string, caller common.Address) (domain.Market, error)
	Cancel(ctx context.Context, marketID string, caller common.Address) (domain.Market, error)
	SetStakeBuyingEnd(ctx context.Context, marketID string, caller common.Address, t time.Time) error
	SetMarketEnd(ctx context.Context, marketID string, caller common.Address, t time.Time) error
	SetName(ctx context.Context, marketID string, caller common.Address, name string) error
	SetOracle(ctx context.Context, marketID string, caller, oracleAddr common.Address) error
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error)
	Count(ctx context.Context) (int64, error)
}

// MarketHandler serves market creation, lifecycle, and query endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

type createMarketRequest struct {
	Name           string    `json:"name"`
	Kind           string    `json:"kind"`
	Mode           string    `json:"mode"`
	Operator       string    `json:"operator"`
	Oracle         string    `json:"oracle"`
	StakeBuyingEnd time.Time `json:"stake_buying_end"`
	MarketEnd      time.Time `json:"market_end"`
}

// CreateMarket creates a new market in Initializing state.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	operator, err := parseAddress(req.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	oracleAddr, err := parseAddress(req.Oracle)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), service.CreateMarketRequest{
		Name:           req.Name,
		Kind:           domain.MarketKind(req.Kind),
		Mode:           domain.PrizeMode(req.Mode),
		Operator:       operator,
		OracleAddr:     oracleAddr,
		StakeBuyingEnd: req.StakeBuyingEnd,
		MarketEnd:      req.MarketEnd,
	})
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to create market")
		return
	}

	writeJSON(w, http.StatusCreated, m)
}

type addOutcomeRequest struct {
	Caller string `json:"caller"`
	Label  string `json:"label"`
}

// AddOutcome appends a discrete outcome label to an initializing market.
// POST /api/markets/{id}/outcomes
func (h *MarketHandler) AddOutcome(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req addOutcomeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcomeID, err := h.markets.AddOutcome(r.Context(), id, caller, req.Label)
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to add outcome")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"market_id":  id,
		"outcome_id": outcomeID,
		"label":      req.Label,
	})
}

type callerRequest struct {
	Caller string `json:"caller"`
}

func (h *MarketHandler) lifecycle(w http.ResponseWriter, r *http.Request, fallback string,
	op func(ctx context.Context, id string, caller common.Address) (domain.Market, error),
) {
	id := pathParam(r, "id")

	var req callerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := op(r.Context(), id, caller)
	if err != nil {
		writeDomainError(h.logger, w, r, err, fallback)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// PublishMarket opens a market for staking.
// POST /api/markets/{id}/publish
func (h *MarketHandler) PublishMarket(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "failed to publish market", h.markets.Publish)
}

// PauseMarket suspends staking on a published market.
// POST /api/markets/{id}/pause
func (h *MarketHandler) PauseMarket(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "failed to pause market", h.markets.Pause)
}

// CancelMarket cancels a market, opening refunds.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "failed to cancel market", h.markets.Cancel)
}

type updateMarketRequest struct {
	Caller         string     `json:"caller"`
	Name           string     `json:"name,omitempty"`
	Oracle         string     `json:"oracle,omitempty"`
	StakeBuyingEnd *time.Time `json:"stake_buying_end,omitempty"`
	MarketEnd      *time.Time `json:"market_end,omitempty"`
}

// UpdateMarket applies configuration changes to a non-published market. Any
// combination of name, oracle, and deadlines may be set in one request.
// PATCH /api/markets/{id}
func (h *MarketHandler) UpdateMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req updateMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if req.Name != "" {
		if err := h.markets.SetName(ctx, id, caller, req.Name); err != nil {
			writeDomainError(h.logger, w, r, err, "failed to rename market")
			return
		}
	}
	if req.StakeBuyingEnd != nil {
		if err := h.markets.SetStakeBuyingEnd(ctx, id, caller, *req.StakeBuyingEnd); err != nil {
			writeDomainError(h.logger, w, r, err, "failed to set staking deadline")
			return
		}
	}
	if req.MarketEnd != nil {
		if err := h.markets.SetMarketEnd(ctx, id, caller, *req.MarketEnd); err != nil {
			writeDomainError(h.logger, w, r, err, "failed to set market end")
			return
		}
	}
	if req.Oracle != "" {
		oracleAddr, err := parseAddress(req.Oracle)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.markets.SetOracle(ctx, id, caller, oracleAddr); err != nil {
			writeDomainError(h.logger, w, r, err, "failed to set oracle")
			return
		}
	}

	m, err := h.markets.GetMarket(ctx, id)
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to get market")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets with pagination, optionally filtered by status
// ordinal.
// GET /api/markets?limit=50&offset=0&status=1
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		markets []domain.Market
		err     error
	)
	if v := r.URL.Query().Get("status"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			writeError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		markets, err = h.markets.ListByStatus(r.Context(), domain.MarketStatus(n), opts)
	} else {
		markets, err = h.markets.ListMarkets(r.Context(), opts)
	}
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to list markets")
		return
	}

	total, err := h.markets.Count(r.Context())
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to count markets")
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, market)
}
