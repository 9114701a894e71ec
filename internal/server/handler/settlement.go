package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marketpool/settlement/internal/domain"
)

// SettlementService defines the settlement methods the handler needs.
type SettlementService interface {
	Resolve(ctx context.Context, marketID string, caller common.Address) (domain.Market, error)
	Entitlement(ctx context.Context, marketID string, owner common.Address) (int64, error)
	WithdrawPrize(ctx context.Context, marketID string, caller common.Address) (domain.Payout, error)
	WithdrawPrizesBulk(ctx context.Context, marketID string, caller common.Address, start, count uint64) (domain.Payout, error)
	PayAllPrizes(ctx context.Context, marketID string, caller common.Address) ([]domain.Payout, error)
	PayAllPrizesBulk(ctx context.Context, marketID string, caller common.Address, start, count uint64) ([]domain.Payout, error)
	GetRefund(ctx context.Context, marketID string, caller common.Address, outcome domain.Outcome) (domain.Payout, error)
	RefundUser(ctx context.Context, marketID string, caller, owner common.Address, outcome domain.Outcome) (domain.Payout, error)
	RefundAllUsers(ctx context.Context, marketID string, caller common.Address) ([]domain.Payout, error)
	ListPayouts(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Payout, error)
}

// SettlementHandler serves resolution, payout, and refund endpoints.
type SettlementHandler struct {
	settlement SettlementService
	logger     *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler with the given service and
// logger.
func NewSettlementHandler(settlement SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlement: settlement,
		logger:     logger,
	}
}

// ResolveMarket settles a published market against its oracle.
// POST /api/markets/{id}/resolve
func (h *SettlementHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
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

	m, err := h.settlement.Resolve(r.Context(), id, caller)
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to resolve market")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetEntitlement returns the prize a holder can still withdraw.
// GET /api/markets/{id}/entitlement?owner=0x...
func (h *SettlementHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	owner, err := parseAddress(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := h.settlement.Entitlement(r.Context(), id, owner)
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to compute entitlement")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"owner":     owner,
		"amount":    amount,
	})
}

// bulkRequest optionally narrows an operation to a window of stakes. With
// Count zero the operation covers everything.
type bulkRequest struct {
	Caller string `json:"caller"`
	Start  uint64 `json:"start,omitempty"`
	Count  uint64 `json:"count,omitempty"`
}

// WithdrawPrize pays the caller their winnings, either in full or over a
// window of their own stakes.
// POST /api/markets/{id}/withdraw
func (h *SettlementHandler) WithdrawPrize(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var p domain.Payout
	if req.Count > 0 {
		p, err = h.settlement.WithdrawPrizesBulk(r.Context(), id, caller, req.Start, req.Count)
	} else {
		p, err = h.settlement.WithdrawPrize(r.Context(), id, caller)
	}
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to withdraw prize")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PayAllPrizes pushes winnings to every unpaid stake, either for the whole
// ledger or a window of it.
// POST /api/markets/{id}/payall
func (h *SettlementHandler) PayAllPrizes(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var payouts []domain.Payout
	if req.Count > 0 {
		payouts, err = h.settlement.PayAllPrizesBulk(r.Context(), id, caller, req.Start, req.Count)
	} else {
		payouts, err = h.settlement.PayAllPrizes(r.Context(), id, caller)
	}
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to pay prizes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payouts": payouts})
}

type refundRequest struct {
	Caller  string         `json:"caller"`
	Owner   string         `json:"owner,omitempty"`
	Outcome domain.Outcome `json:"outcome"`
}

// Refund returns stakes on one outcome of a canceled market. Without an owner
// field the caller reclaims their own stakes; with one, the operator pushes
// the refund to that holder.
// POST /api/markets/{id}/refund
func (h *SettlementHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var p domain.Payout
	if req.Owner != "" {
		owner, parseErr := parseAddress(req.Owner)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		p, err = h.settlement.RefundUser(r.Context(), id, caller, owner, req.Outcome)
	} else {
		p, err = h.settlement.GetRefund(r.Context(), id, caller, req.Outcome)
	}
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to refund")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RefundAll pushes every unpaid stake of a canceled market back to its owner.
// POST /api/markets/{id}/refund-all
func (h *SettlementHandler) RefundAll(w http.ResponseWriter, r *http.Request) {
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

	payouts, err := h.settlement.RefundAllUsers(r.Context(), id, caller)
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to refund all")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payouts": payouts})
}

// ListPayouts returns a market's payout audit trail.
// GET /api/markets/{id}/payouts
func (h *SettlementHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	opts := parseListOpts(r)

	payouts, err := h.settlement.ListPayouts(r.Context(), id, opts)
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to list payouts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payouts": payouts,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
