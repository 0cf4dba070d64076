package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountRepository defines the interface for account data access operations.
// Every mutating method is a single conditional write scoped to one row:
// implementations must not read, decide, and write in separate steps.
type AccountRepository interface {
	// Create persists a new account.
	// Returns ErrDuplicateAccountNumber if the number is taken.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by its unique identifier.
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// GetByNumber retrieves an account by its account number.
	GetByNumber(ctx context.Context, number string) (*Account, error)

	// ListByOwner returns the accounts of one owner, oldest first.
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Account, error)

	// ListByStatus returns the accounts in the given status, oldest first.
	ListByStatus(ctx context.Context, status AccountStatus) ([]*Account, error)

	// Lock acquires a lock on the account for the duration of the transaction.
	// Outside a transaction it behaves like GetByID.
	Lock(ctx context.Context, id uuid.UUID) (*Account, error)

	// Credit atomically adds amount to the balance.
	// Returns ErrAccountNotFound, or ErrAccountNotActive for a CLOSED account.
	Credit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Account, error)

	// Debit atomically subtracts amount if the account is ACTIVE and balance >= amount.
	// Returns ErrInsufficientFunds, ErrAccountNotActive or ErrAccountNotFound otherwise.
	Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Account, error)

	// UpdateStatus sets the status to `to` only if it is currently `from`
	// (and, when requireZeroBalance is set, the balance is zero).
	// Returns ErrStateConflict if the status moved, ErrNonZeroBalance if funds remain.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to AccountStatus, requireZeroBalance bool) (*Account, error)

	// SumBalanceByStatus totals the balances of accounts in the given status.
	SumBalanceByStatus(ctx context.Context, status AccountStatus) (decimal.Decimal, error)
}

// PaymentRepository defines the interface for payment data access operations.
type PaymentRepository interface {
	// Create persists a new payment record.
	// Returns ErrDuplicateTransactionID if the transaction id is taken.
	Create(ctx context.Context, payment *Payment) error

	// GetByID retrieves a payment by its unique identifier.
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)

	// GetByTransactionID retrieves a payment by its transaction id.
	GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error)

	// ListByAccount pages through payments where the account is source or
	// destination, newest first.
	ListByAccount(ctx context.Context, accountID uuid.UUID, page PageRequest) (Page[*Payment], error)

	// ListByStatus returns the payments in the given status, newest first.
	ListByStatus(ctx context.Context, status PaymentStatus) ([]*Payment, error)

	// ListByDateRange returns payments created within [start, end], newest first.
	ListByDateRange(ctx context.Context, start, end time.Time) ([]*Payment, error)

	// ListStale returns up to limit payments in status not updated since before.
	ListStale(ctx context.Context, status PaymentStatus, before time.Time, limit int) ([]*Payment, error)

	// UpdateState applies update only if the payment is currently in state from.
	// Returns ErrStateConflict if the state moved.
	UpdateState(ctx context.Context, id uuid.UUID, from PaymentState, update StateUpdate) (*Payment, error)

	// SumAmountByType totals the amounts of payments of type t in status.
	SumAmountByType(ctx context.Context, t PaymentType, status PaymentStatus) (decimal.Decimal, error)

	// CountByStatusSince counts payments in status created at or after since.
	CountByStatusSince(ctx context.Context, status PaymentStatus, since time.Time) (int64, error)
}

// ReconciliationRepository stores records of stranded funds.
type ReconciliationRepository interface {
	// Create persists a new reconciliation record.
	Create(ctx context.Context, rec *Reconciliation) error

	// ListOpen returns unresolved records, oldest first.
	ListOpen(ctx context.Context) ([]*Reconciliation, error)
}

// UserRepository defines the interface for account owner persistence.
type UserRepository interface {
	// Create persists a new user.
	// Returns ErrDuplicateEmail or ErrDuplicateDocument if either is taken.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by id. Returns ErrUserNotFound if missing.
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)

	// GetByEmail retrieves a user by normalized email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByDocument retrieves a user by document.
	GetByDocument(ctx context.Context, document string) (*User, error)

	// ListActive returns the active users, oldest first.
	ListActive(ctx context.Context) ([]*User, error)

	// List returns a page of all users, oldest first.
	List(ctx context.Context, page PageRequest) (Page[*User], error)

	// Update stores the profile fields of user (email, document, full name,
	// phone) and returns the stored user. The active flag is not touched.
	// Returns ErrDuplicateEmail or ErrDuplicateDocument on a clash.
	Update(ctx context.Context, user *User) (*User, error)

	// SetActive sets the active flag and returns the stored user.
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*User, error)
}

// TransactionManager defines the interface for managing database transactions.
// This abstraction allows the service layer to work with transactions
// without being coupled to a specific database implementation.
type TransactionManager interface {
	// WithTransaction executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// Otherwise, the transaction is committed.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// AuditSink receives one event per mutating action.
// Record must not block and never reports failure to the caller.
type AuditSink interface {
	Record(ctx context.Context, entityType, entityID, action string, details map[string]any)
}

// SettlementObserver is notified of every settlement outcome.
type SettlementObserver interface {
	ObserveSettlement(t PaymentType, status PaymentStatus, stage SettlementStage, elapsed time.Duration)
}

// Audit entity types and actions.
const (
	EntityAccount = "ACCOUNT"
	EntityPayment = "PAYMENT"
	EntityUser    = "USER"

	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
)

type nopAuditSink struct{}

func (nopAuditSink) Record(context.Context, string, string, string, map[string]any) {}

type nopObserver struct{}

func (nopObserver) ObserveSettlement(PaymentType, PaymentStatus, SettlementStage, time.Duration) {}

type passthroughTxManager struct{}

func (passthroughTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
