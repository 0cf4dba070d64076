package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// maxAccountNumberAttempts bounds re-rolls of a colliding account number
	maxAccountNumberAttempts = 5

	// maxStatusAttempts bounds re-evaluation after losing a status race
	maxStatusAttempts = 3
)

// AccountLedger is the only authority allowed to change an account's
// balance or status.
type AccountLedger struct {
	accounts AccountRepository
	owners   UserRepository
	numbers  AccountNumberGenerator
	audit    AuditSink
	logger   *zap.Logger
}

// NewAccountLedger creates a new AccountLedger. owners is consulted when
// opening accounts. Pass nil for audit if no audit events should be emitted.
func NewAccountLedger(accounts AccountRepository, owners UserRepository, numbers AccountNumberGenerator, audit AuditSink) *AccountLedger {
	if numbers == nil {
		numbers = CheckDigitGenerator{}
	}
	if audit == nil {
		audit = nopAuditSink{}
	}
	return &AccountLedger{
		accounts: accounts,
		owners:   owners,
		numbers:  numbers,
		audit:    audit,
		logger:   zap.L().Named("account_ledger"),
	}
}

// CreateAccount opens a new ACTIVE account with zero balance for owner.
// The owner must exist and be active.
func (l *AccountLedger) CreateAccount(ctx context.Context, ownerID uuid.UUID) (*Account, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidRequest)
	}

	owner, err := l.owners.GetByID(ctx, ownerID)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load owner: %w", err)
	}
	if !owner.Active {
		return nil, ErrUserNotActive
	}

	for attempt := 1; attempt <= maxAccountNumberAttempts; attempt++ {
		account := NewAccount(ownerID, l.numbers.Generate())
		err := l.accounts.Create(ctx, account)
		if errors.Is(err, ErrDuplicateAccountNumber) {
			l.logger.Debug("Account number collision, retrying",
				zap.String("account_number", account.AccountNumber),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create account: %w", err)
		}

		l.audit.Record(ctx, EntityAccount, account.ID.String(), ActionCreate, map[string]any{
			"description":    "account created",
			"account_number": account.AccountNumber,
			"owner_id":       ownerID.String(),
		})
		l.logger.Info("Account created",
			zap.String("account_id", account.ID.String()),
			zap.String("account_number", account.AccountNumber),
		)
		return account, nil
	}

	return nil, fmt.Errorf("failed to allocate a unique account number after %d attempts: %w",
		maxAccountNumberAttempts, ErrDuplicateAccountNumber)
}

// GetAccount retrieves an account by id.
func (l *AccountLedger) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	return l.accounts.GetByID(ctx, id)
}

// GetAccountByNumber retrieves an account by its account number.
func (l *AccountLedger) GetAccountByNumber(ctx context.Context, number string) (*Account, error) {
	return l.accounts.GetByNumber(ctx, number)
}

// ListByOwner returns all accounts of an owner.
func (l *AccountLedger) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Account, error) {
	return l.accounts.ListByOwner(ctx, ownerID)
}

// ListByStatus returns all accounts in a status.
func (l *AccountLedger) ListByStatus(ctx context.Context, status AccountStatus) ([]*Account, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown account status %q", ErrInvalidRequest, status)
	}
	return l.accounts.ListByStatus(ctx, status)
}

// GetBalance returns the current balance of an account.
func (l *AccountLedger) GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	account, err := l.accounts.GetByID(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// GetStatus returns the current status of an account.
func (l *AccountLedger) GetStatus(ctx context.Context, id uuid.UUID) (AccountStatus, error) {
	account, err := l.accounts.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return account.Status, nil
}

// TotalActiveBalance sums the balances of all ACTIVE accounts.
func (l *AccountLedger) TotalActiveBalance(ctx context.Context) (decimal.Decimal, error) {
	return l.accounts.SumBalanceByStatus(ctx, AccountStatusActive)
}

// Credit adds amount to an account. It does not fail on business grounds
// except when the account is missing or CLOSED.
func (l *AccountLedger) Credit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Account, error) {
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}
	account, err := l.accounts.Credit(ctx, id, amount)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("Account credited",
		zap.String("account_id", id.String()),
		zap.String("amount", FormatAmount(amount)),
	)
	return account, nil
}

// Debit subtracts amount from an account in one compare-and-decrement step.
// ErrInsufficientFunds is a normal outcome.
func (l *AccountLedger) Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Account, error) {
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}
	account, err := l.accounts.Debit(ctx, id, amount)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			l.logger.Warn("Debit rejected: insufficient funds",
				zap.String("account_id", id.String()),
				zap.String("amount", FormatAmount(amount)),
			)
		}
		return nil, err
	}
	l.logger.Debug("Account debited",
		zap.String("account_id", id.String()),
		zap.String("amount", FormatAmount(amount)),
	)
	return account, nil
}

// Block moves an ACTIVE account to BLOCKED.
func (l *AccountLedger) Block(ctx context.Context, id uuid.UUID) (*Account, error) {
	return l.ChangeStatus(ctx, id, AccountStatusBlocked)
}

// Unblock moves a BLOCKED account back to ACTIVE.
func (l *AccountLedger) Unblock(ctx context.Context, id uuid.UUID) (*Account, error) {
	return l.ChangeStatus(ctx, id, AccountStatusActive)
}

// Close moves an ACTIVE account with zero balance to CLOSED.
func (l *AccountLedger) Close(ctx context.Context, id uuid.UUID) (*Account, error) {
	return l.ChangeStatus(ctx, id, AccountStatusClosed)
}

// ChangeStatus applies a legal lifecycle transition. The legality check and
// the write are one conditional update; a lost race is re-evaluated against
// the fresh state.
func (l *AccountLedger) ChangeStatus(ctx context.Context, id uuid.UUID, target AccountStatus) (*Account, error) {
	for attempt := 1; attempt <= maxStatusAttempts; attempt++ {
		current, err := l.accounts.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if !CanTransitionAccount(current.Status, target) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, target)
		}

		requireZero := target == AccountStatusClosed
		if requireZero && !current.Balance.IsZero() {
			return nil, ErrNonZeroBalance
		}

		updated, err := l.accounts.UpdateStatus(ctx, id, current.Status, target, requireZero)
		if errors.Is(err, ErrStateConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		l.audit.Record(ctx, EntityAccount, id.String(), ActionUpdate, map[string]any{
			"description":    "account status changed",
			"account_number": updated.AccountNumber,
			"old_status":     string(current.Status),
			"new_status":     string(target),
		})
		l.logger.Info("Account status changed",
			zap.String("account_id", id.String()),
			zap.String("old_status", string(current.Status)),
			zap.String("new_status", string(target)),
		)
		return updated, nil
	}

	return nil, fmt.Errorf("failed to change account status: %w", ErrStateConflict)
}
