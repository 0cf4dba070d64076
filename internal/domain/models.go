package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account represents a customer account held in the ledger.
// Balance is only ever changed through AccountLedger.
type Account struct {
	ID            uuid.UUID       // Unique identifier of the account
	OwnerID       uuid.UUID       // Owning user
	AccountNumber string          // Externally addressable number, e.g. "001-123456-7"
	Balance       decimal.Decimal // Current balance, scale 2, never negative
	Status        AccountStatus   // Lifecycle state
	CreatedAt     time.Time       // Timestamp when the account was created
	UpdatedAt     time.Time       // Timestamp of the last account update
}

// User owns accounts. A deactivated user keeps existing accounts but
// cannot open new ones.
type User struct {
	ID        uuid.UUID
	Email     string // Unique, stored trimmed and lower case
	Document  string // CPF (11 digits) or CNPJ (14 digits), unique
	FullName  string
	Phone     string // Optional, 10 or 11 digits
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserRequest carries the editable profile fields of a user.
type UserRequest struct {
	Email    string
	Document string
	FullName string
	Phone    string
}

// AccountStatus represents the lifecycle state of an account.
type AccountStatus string

const (
	AccountStatusActive  AccountStatus = "ACTIVE"
	AccountStatusBlocked AccountStatus = "BLOCKED"
	AccountStatusClosed  AccountStatus = "CLOSED"
)

// Valid reports whether s is a known account status.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusBlocked, AccountStatusClosed:
		return true
	}
	return false
}

// Payment represents a money movement into (and optionally out of) accounts.
type Payment struct {
	ID            uuid.UUID       // Unique identifier of the payment
	TransactionID string          // Globally unique external reference
	FromAccountID *uuid.UUID      // Source account, nil for pure credit instruments
	ToAccountID   uuid.UUID       // Destination account
	Amount        decimal.Decimal // Amount to move, always positive
	Type          PaymentType     // Instrument
	Status        PaymentStatus   // Lifecycle state
	Stage         SettlementStage // How far settlement got
	Description   string
	ExternalID    string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ProcessedAt   *time.Time // Set once on entering COMPLETED or FAILED
}

// PaymentType is the payment instrument.
type PaymentType string

const (
	PaymentTypePIX      PaymentType = "PIX"
	PaymentTypeTransfer PaymentType = "TRANSFER"
	PaymentTypeCard     PaymentType = "CARD"
	PaymentTypeBoleto   PaymentType = "BOLETO"
)

// PaymentStatus represents the possible states of a payment.
type PaymentStatus string

const (
	// PaymentStatusPending indicates the payment was accepted and awaits processing
	PaymentStatusPending PaymentStatus = "PENDING"

	// PaymentStatusProcessing indicates a processor has claimed the payment
	PaymentStatusProcessing PaymentStatus = "PROCESSING"

	// PaymentStatusCompleted indicates funds were debited and credited
	PaymentStatusCompleted PaymentStatus = "COMPLETED"

	// PaymentStatusFailed indicates settlement did not complete
	PaymentStatusFailed PaymentStatus = "FAILED"

	// PaymentStatusCancelled indicates the payment was cancelled before settlement
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusCancelled
}

// SettlementStage records which ledger mutations a payment has claimed.
type SettlementStage string

const (
	// StageNone means no ledger mutation has been claimed; the payment may still be cancelled
	StageNone SettlementStage = "NONE"

	// StageDebited means the source was debited and the credit is outstanding
	StageDebited SettlementStage = "DEBITED"

	// StageCrediting means a credit-only payment is crediting the destination
	StageCrediting SettlementStage = "CREDITING"

	// StageSettled means debit and credit both applied
	StageSettled SettlementStage = "SETTLED"

	// StageCompensated means the debit was reversed after a failed credit
	StageCompensated SettlementStage = "COMPENSATED"

	// StageReconcile means funds are stranded and a reconciliation record exists
	StageReconcile SettlementStage = "RECONCILE"
)

// PaymentState is the pair compared and swapped by PaymentRepository.UpdateState.
type PaymentState struct {
	Status PaymentStatus
	Stage  SettlementStage
}

// State returns the current state pair of the payment.
func (p *Payment) State() PaymentState {
	return PaymentState{Status: p.Status, Stage: p.Stage}
}

// StateUpdate carries the fields written together with a state change.
type StateUpdate struct {
	To            PaymentState
	FailureReason string
	ProcessedAt   *time.Time
}

// Reconciliation records funds left stranded by a partially failed settlement.
type Reconciliation struct {
	ID            uuid.UUID
	PaymentID     uuid.UUID
	TransactionID string
	AccountID     uuid.UUID // Account whose funds were debited and not returned
	Amount        decimal.Decimal
	Reason        string
	Resolved      bool
	CreatedAt     time.Time
}

// PageRequest selects a page of results; Page is zero based.
type PageRequest struct {
	Page int
	Size int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Normalize clamps the request to sane bounds.
func (r PageRequest) Normalize() PageRequest {
	if r.Page < 0 {
		r.Page = 0
	}
	if r.Size <= 0 {
		r.Size = defaultPageSize
	}
	if r.Size > maxPageSize {
		r.Size = maxPageSize
	}
	return r
}

// Offset returns the number of rows to skip.
func (r PageRequest) Offset() int {
	return r.Page * r.Size
}

// Page is one page of results.
type Page[T any] struct {
	Items []T
	Page  int
	Size  int
	Total int
}

// NewUser creates a new active user from a validated request.
func NewUser(req UserRequest) *User {
	now := time.Now().UTC()
	return &User{
		ID:        uuid.New(),
		Email:     req.Email,
		Document:  req.Document,
		FullName:  req.FullName,
		Phone:     req.Phone,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewAccount creates a new ACTIVE account with zero balance.
func NewAccount(ownerID uuid.UUID, accountNumber string) *Account {
	now := time.Now().UTC()
	return &Account{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		AccountNumber: accountNumber,
		Balance:       decimal.Zero,
		Status:        AccountStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewPayment creates a new Payment in PENDING status.
func NewPayment(req CreatePaymentRequest, transactionID string) *Payment {
	now := time.Now().UTC()
	return &Payment{
		ID:            uuid.New(),
		TransactionID: transactionID,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		Type:          req.Type,
		Status:        PaymentStatusPending,
		Stage:         StageNone,
		Description:   req.Description,
		ExternalID:    req.ExternalID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
