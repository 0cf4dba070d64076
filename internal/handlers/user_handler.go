package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/efojunior25/payment-system/internal/domain"
)

func decodeUserRequest(w http.ResponseWriter, r *http.Request) (domain.UserRequest, bool) {
	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body: "+err.Error())
		return domain.UserRequest{}, false
	}
	return domain.UserRequest{
		Email:    req.Email,
		Document: req.Document,
		FullName: req.FullName,
		Phone:    req.Phone,
	}, true
}

// CreateUser registers an active user
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeUserRequest(w, r)
	if !ok {
		return
	}

	user, err := h.users.CreateUser(r.Context(), req)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) GetUserByEmail(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUserByEmail(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) GetUserByDocument(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUserByDocument(r.Context(), chi.URLParam(r, "document"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// ListUsers pages through all users, oldest first
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, err := pageQuery(r)
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	result, err := h.users.ListUsers(r.Context(), page)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UserPageResponse{
		Content:       toUserResponses(result.Items),
		Page:          result.Page,
		Size:          result.Size,
		TotalElements: result.Total,
		TotalPages:    pageCount(result.Total, result.Size),
	})
}

func (h *Handler) ListActiveUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListActiveUsers(r.Context())
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponses(users))
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	req, ok := decodeUserRequest(w, r)
	if !ok {
		return
	}

	user, err := h.users.UpdateUser(r.Context(), id, req)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) ActivateUser(w http.ResponseWriter, r *http.Request) {
	h.changeActivation(w, r, h.users.ActivateUser)
}

func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	h.changeActivation(w, r, h.users.DeactivateUser)
}

func (h *Handler) changeActivation(w http.ResponseWriter, r *http.Request, change func(ctx context.Context, id uuid.UUID) (*domain.User, error)) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	user, err := change(r.Context(), id)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	h.l.Info("User activation changed",
		zap.Stringer("user_id", user.ID),
		zap.Bool("active", user.Active),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) EmailExists(w http.ResponseWriter, r *http.Request) {
	h.exists(w, r, h.users.EmailExists, chi.URLParam(r, "email"))
}

func (h *Handler) DocumentExists(w http.ResponseWriter, r *http.Request) {
	h.exists(w, r, h.users.DocumentExists, chi.URLParam(r, "document"))
}

func (h *Handler) exists(w http.ResponseWriter, r *http.Request, lookup func(ctx context.Context, key string) (bool, error), key string) {
	found, err := lookup(r.Context(), key)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExistsResponse{Exists: found})
}
