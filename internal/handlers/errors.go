package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/efojunior25/payment-system/internal/domain"
)

// handleDomainError converts domain errors to HTTP responses
func (h *Handler) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrSameAccount),
		errors.Is(err, domain.ErrMissingSourceAccount):
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		sendErrorResponse(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		sendErrorResponse(w, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", err.Error())
	case errors.Is(err, domain.ErrAccountNotActive):
		sendErrorResponse(w, http.StatusUnprocessableEntity, "ACCOUNT_NOT_ACTIVE", err.Error())
	case errors.Is(err, domain.ErrNonZeroBalance):
		sendErrorResponse(w, http.StatusUnprocessableEntity, "FAILED_PRECONDITION", err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		sendErrorResponse(w, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, domain.ErrStateConflict),
		errors.Is(err, domain.ErrDuplicateTransactionID),
		errors.Is(err, domain.ErrDuplicateAccountNumber),
		errors.Is(err, domain.ErrDuplicateEmail),
		errors.Is(err, domain.ErrDuplicateDocument):
		sendErrorResponse(w, http.StatusConflict, "CONFLICT", err.Error())
	default:
		h.l.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		sendErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

// sendErrorResponse sends an error response in the expected format
func sendErrorResponse(w http.ResponseWriter, statusCode int, code, description string) {
	errorResp := BaseError{
		Code:        code,
		Description: &description,
		Id:          uuid.New(),
	}

	writeJSON(w, statusCode, errorResp)
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
