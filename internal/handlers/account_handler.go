package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/efojunior25/payment-system/internal/domain"
)

// parseUUIDParam reads a path parameter as a UUID, writing a 400 on failure.
func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf("invalid %s: %v", name, err))
		return uuid.Nil, false
	}
	return id, true
}

// CreateAccount opens an ACTIVE account with zero balance
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body: "+err.Error())
		return
	}
	if req.OwnerId == uuid.Nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_ARGUMENT", "ownerId is required")
		return
	}

	account, err := h.ledger.CreateAccount(r.Context(), req.OwnerId)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	h.l.Info("Account created",
		zap.Stringer("account_id", account.ID),
		zap.String("account_number", account.AccountNumber),
	)
	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	account, err := h.ledger.GetAccount(r.Context(), id)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *Handler) GetAccountByNumber(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.GetAccountByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *Handler) GetAccountsByOwner(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := parseUUIDParam(w, r, "ownerId")
	if !ok {
		return
	}

	accounts, err := h.ledger.ListByOwner(r.Context(), ownerID)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponses(accounts))
}

func (h *Handler) GetAccountsByStatus(w http.ResponseWriter, r *http.Request) {
	status, err := domain.ParseAccountStatus(chi.URLParam(r, "status"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	accounts, err := h.ledger.ListByStatus(r.Context(), status)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponses(accounts))
}

func (h *Handler) GetTotalActiveBalance(w http.ResponseWriter, r *http.Request) {
	total, err := h.ledger.TotalActiveBalance(r.Context())
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TotalResponse{Total: domain.FormatAmount(total)})
}

func (h *Handler) BlockAccount(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.ledger.Block)
}

func (h *Handler) UnblockAccount(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.ledger.Unblock)
}

func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.ledger.Close)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, change func(ctx context.Context, id uuid.UUID) (*domain.Account, error)) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	account, err := change(r.Context(), id)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	h.l.Info("Account status changed",
		zap.Stringer("account_id", account.ID),
		zap.String("status", string(account.Status)),
	)
	w.WriteHeader(http.StatusNoContent)
}
