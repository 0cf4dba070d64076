package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/efojunior25/payment-system/internal/domain"
)

// CreatePayment validates and stores a PENDING payment
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	// Parse request body
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body: "+err.Error())
		return
	}

	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	paymentType, err := domain.ParsePaymentType(req.Type)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	payment, err := h.payments.CreatePayment(r.Context(), domain.CreatePaymentRequest{
		FromAccountID: req.FromAccountId,
		ToAccountID:   req.ToAccountId,
		Amount:        amount,
		Type:          paymentType,
		Description:   req.Description,
		ExternalID:    req.ExternalId,
	})
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	h.l.Info("Payment created",
		zap.Stringer("payment_id", payment.ID),
		zap.String("transaction_id", payment.TransactionID),
		zap.String("type", string(payment.Type)),
	)
	writeJSON(w, http.StatusCreated, toPaymentResponse(payment))
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	payment, err := h.payments.GetPayment(r.Context(), id)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(payment))
}

func (h *Handler) GetPaymentByTransactionID(w http.ResponseWriter, r *http.Request) {
	payment, err := h.payments.GetPaymentByTransactionID(r.Context(), chi.URLParam(r, "transactionId"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(payment))
}

// GetPaymentsByAccount pages through payments in which the account takes part, newest first
func (h *Handler) GetPaymentsByAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := parseUUIDParam(w, r, "accountId")
	if !ok {
		return
	}

	page, err := pageQuery(r)
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	result, err := h.payments.ListByAccount(r.Context(), accountID, page)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, PaymentPageResponse{
		Content:       toPaymentResponses(result.Items),
		Page:          result.Page,
		Size:          result.Size,
		TotalElements: result.Total,
		TotalPages:    pageCount(result.Total, result.Size),
	})
}

func (h *Handler) GetPaymentsByStatus(w http.ResponseWriter, r *http.Request) {
	status, err := domain.ParsePaymentStatus(chi.URLParam(r, "status"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	payments, err := h.payments.ListByStatus(r.Context(), status)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponses(payments))
}

func (h *Handler) GetPaymentsByDateRange(w http.ResponseWriter, r *http.Request) {
	start, err := timeQuery(r, "start")
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}
	end, err := timeQuery(r, "end")
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	payments, err := h.payments.ListByDateRange(r.Context(), start, end)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponses(payments))
}

// ProcessPayment settles a PENDING payment. Business failures come back as a FAILED payment with 200.
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	payment, err := h.payments.ProcessPayment(r.Context(), id)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(payment))
}

func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	payment, err := h.payments.CancelPayment(r.Context(), id)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(payment))
}

func (h *Handler) GetTotalAmountByType(w http.ResponseWriter, r *http.Request) {
	paymentType, err := domain.ParsePaymentType(chi.URLParam(r, "type"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	total, err := h.payments.TotalAmountByType(r.Context(), paymentType)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TotalResponse{Total: domain.FormatAmount(total)})
}

func (h *Handler) CountPaymentsByStatusSince(w http.ResponseWriter, r *http.Request) {
	status, err := domain.ParsePaymentStatus(chi.URLParam(r, "status"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	since, err := timeQuery(r, "since")
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	count, err := h.payments.CountByStatusSince(r.Context(), status, since)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: count})
}

// intQuery reads an optional integer query parameter; absent means 0.
// pageQuery reads the optional page and size query parameters.
func pageQuery(r *http.Request) (domain.PageRequest, error) {
	var page domain.PageRequest
	var err error
	if page.Page, err = intQuery(r, "page"); err != nil {
		return page, err
	}
	if page.Size, err = intQuery(r, "size"); err != nil {
		return page, err
	}
	return page, nil
}

func pageCount(total, size int) int {
	if size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be an integer", name, raw)
	}
	return n, nil
}

// timeQuery reads a required RFC 3339 timestamp query parameter.
func timeQuery(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: must be RFC 3339", name, raw)
	}
	return t, nil
}
