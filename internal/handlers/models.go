package handlers

import (
	"time"

	"github.com/google/uuid"

	"github.com/efojunior25/payment-system/internal/domain"
)

// BaseError is the body of every error response.
type BaseError struct {
	Code        string    `json:"code"`
	Description *string   `json:"description,omitempty"`
	Id          uuid.UUID `json:"id"`
}

// UserRequest is the body of POST and PUT /users.
type UserRequest struct {
	Email    string `json:"email"`
	Document string `json:"document"`
	FullName string `json:"fullName"`
	Phone    string `json:"phone,omitempty"`
}

type UserResponse struct {
	Id        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Document  string    `json:"document"`
	FullName  string    `json:"fullName"`
	Phone     string    `json:"phone,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type UserPageResponse struct {
	Content       []UserResponse `json:"content"`
	Page          int            `json:"page"`
	Size          int            `json:"size"`
	TotalElements int            `json:"totalElements"`
	TotalPages    int            `json:"totalPages"`
}

type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// CreateAccountRequest opens a new account for an owner.
type CreateAccountRequest struct {
	OwnerId uuid.UUID `json:"ownerId"`
}

type AccountResponse struct {
	Id            uuid.UUID `json:"id"`
	OwnerId       uuid.UUID `json:"ownerId"`
	AccountNumber string    `json:"accountNumber"`
	Balance       string    `json:"balance"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// CreatePaymentRequest is the body of POST /payments. Amount is a decimal string.
type CreatePaymentRequest struct {
	FromAccountId *uuid.UUID `json:"fromAccountId,omitempty"`
	ToAccountId   uuid.UUID  `json:"toAccountId"`
	Amount        string     `json:"amount"`
	Type          string     `json:"type"`
	Description   string     `json:"description,omitempty"`
	ExternalId    string     `json:"externalId,omitempty"`
}

type PaymentResponse struct {
	Id            uuid.UUID  `json:"id"`
	TransactionId string     `json:"transactionId"`
	FromAccountId *uuid.UUID `json:"fromAccountId,omitempty"`
	ToAccountId   uuid.UUID  `json:"toAccountId"`
	Amount        string     `json:"amount"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Stage         string     `json:"stage"`
	Description   string     `json:"description,omitempty"`
	ExternalId    string     `json:"externalId,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
}

type PaymentPageResponse struct {
	Content       []PaymentResponse `json:"content"`
	Page          int               `json:"page"`
	Size          int               `json:"size"`
	TotalElements int               `json:"totalElements"`
	TotalPages    int               `json:"totalPages"`
}

type TotalResponse struct {
	Total string `json:"total"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Service    string            `json:"service"`
	Components map[string]string `json:"components,omitempty"`
}

func toUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		Id:        u.ID,
		Email:     u.Email,
		Document:  u.Document,
		FullName:  u.FullName,
		Phone:     u.Phone,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func toUserResponses(users []*domain.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	return out
}

func toAccountResponse(a *domain.Account) AccountResponse {
	return AccountResponse{
		Id:            a.ID,
		OwnerId:       a.OwnerID,
		AccountNumber: a.AccountNumber,
		Balance:       domain.FormatAmount(a.Balance),
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func toAccountResponses(accounts []*domain.Account) []AccountResponse {
	out := make([]AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	return out
}

func toPaymentResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		Id:            p.ID,
		TransactionId: p.TransactionID,
		FromAccountId: p.FromAccountID,
		ToAccountId:   p.ToAccountID,
		Amount:        domain.FormatAmount(p.Amount),
		Type:          string(p.Type),
		Status:        string(p.Status),
		Stage:         string(p.Stage),
		Description:   p.Description,
		ExternalId:    p.ExternalID,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		ProcessedAt:   p.ProcessedAt,
	}
}

func toPaymentResponses(payments []*domain.Payment) []PaymentResponse {
	out := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentResponse(p))
	}
	return out
}
