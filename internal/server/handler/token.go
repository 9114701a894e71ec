package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// TokenService defines the token ledger methods the handler needs.
type TokenService interface {
	Issue(ctx context.Context, caller, account common.Address, amount int64) error
	Destroy(ctx context.Context, caller, account common.Address, amount int64) error
	Approve(ctx context.Context, owner, spender common.Address, amount int64) error
	Allowance(ctx context.Context, owner, spender common.Address) int64
	BalanceOf(ctx context.Context, account common.Address) (int64, error)
}

// TokenHandler serves the reference token ledger endpoints.
type TokenHandler struct {
	tokens TokenService
	logger *slog.Logger
}

// NewTokenHandler creates a TokenHandler with the given service and logger.
func NewTokenHandler(tokens TokenService, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		tokens: tokens,
		logger: logger,
	}
}

type issueRequest struct {
	Caller  string `json:"caller"`
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// Issue mints tokens to an account. Admin only.
// POST /api/token/issue
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.tokens.Issue(r.Context(), caller, account, req.Amount); err != nil {
		writeDomainError(h.logger, w, r, err, "failed to issue tokens")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"amount":  req.Amount,
	})
}

// Destroy burns tokens from an account. Admin only.
// POST /api/token/destroy
func (h *TokenHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.tokens.Destroy(r.Context(), caller, account, req.Amount); err != nil {
		writeDomainError(h.logger, w, r, err, "failed to destroy tokens")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"amount":  req.Amount,
	})
}

type approveRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  int64  `json:"amount"`
}

// Approve sets the exact amount a spender may pull from the owner, typically
// a market escrow ahead of staking.
// POST /api/token/approve
func (h *TokenHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spender, err := parseAddress(req.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.tokens.Approve(r.Context(), owner, spender, req.Amount); err != nil {
		writeDomainError(h.logger, w, r, err, "failed to approve")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":   owner,
		"spender": spender,
		"amount":  req.Amount,
	})
}

// GetBalance reports an account's balance.
// GET /api/token/balance/{address}
func (h *TokenHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	balance, err := h.tokens.BalanceOf(r.Context(), account)
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to get balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"balance": balance,
	})
}

// GetAllowance reports how much spender may still pull from owner.
// GET /api/token/allowance?owner=0x...&spender=0x...
func (h *TokenHandler) GetAllowance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spender, err := parseAddress(r.URL.Query().Get("spender"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"owner":     owner,
		"spender":   spender,
		"allowance": h.tokens.Allowance(r.Context(), owner, spender),
	})
}
