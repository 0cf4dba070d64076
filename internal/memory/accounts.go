// Package memory provides in-process implementations of the domain
// repositories. Every mutation takes the lock of the single row it touches,
// so unrelated accounts and payments never contend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efojunior25/payment-system/internal/domain"
)

type accountRow struct {
	mu      sync.Mutex
	account domain.Account
}

// AccountRepository implements domain.AccountRepository in memory.
type AccountRepository struct {
	mu       sync.RWMutex
	rows     map[uuid.UUID]*accountRow
	byNumber map[string]uuid.UUID
}

// NewAccountRepository creates an empty AccountRepository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		rows:     make(map[uuid.UUID]*accountRow),
		byNumber: make(map[string]uuid.UUID),
	}
}

// Create persists a new account.
func (r *AccountRepository) Create(_ context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byNumber[account.AccountNumber]; taken {
		return domain.ErrDuplicateAccountNumber
	}
	r.rows[account.ID] = &accountRow{account: *account}
	r.byNumber[account.AccountNumber] = account.ID
	return nil
}

func (r *AccountRepository) row(id uuid.UUID) (*accountRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return row, nil
}

// snapshot returns a copy of the account under its row lock.
func (row *accountRow) snapshot() *domain.Account {
	row.mu.Lock()
	defer row.mu.Unlock()
	a := row.account
	return &a
}

// GetByID retrieves an account by its unique identifier.
func (r *AccountRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	row, err := r.row(id)
	if err != nil {
		return nil, err
	}
	return row.snapshot(), nil
}

// GetByNumber retrieves an account by its account number.
func (r *AccountRepository) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	r.mu.RLock()
	id, ok := r.byNumber[number]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return r.GetByID(ctx, id)
}

// ListByOwner returns the accounts of one owner, oldest first.
func (r *AccountRepository) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]*domain.Account, error) {
	return r.filter(func(a *domain.Account) bool { return a.OwnerID == ownerID }), nil
}

// ListByStatus returns the accounts in the given status, oldest first.
func (r *AccountRepository) ListByStatus(_ context.Context, status domain.AccountStatus) ([]*domain.Account, error) {
	return r.filter(func(a *domain.Account) bool { return a.Status == status }), nil
}

func (r *AccountRepository) filter(keep func(*domain.Account) bool) []*domain.Account {
	r.mu.RLock()
	rows := make([]*accountRow, 0, len(r.rows))
	for _, row := range r.rows {
		rows = append(rows, row)
	}
	r.mu.RUnlock()

	result := make([]*domain.Account, 0)
	for _, row := range rows {
		if a := row.snapshot(); keep(a) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

// Lock has nothing to lock outside a database transaction; every mutation
// here is already atomic per row.
func (r *AccountRepository) Lock(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return r.GetByID(ctx, id)
}

// Credit atomically adds amount to the balance.
func (r *AccountRepository) Credit(_ context.Context, id uuid.UUID, amount decimal.Decimal) (*domain.Account, error) {
	row, err := r.row(id)
	if err != nil {
		return nil, err
	}

	row.mu.Lock()
	defer row.mu.Unlock()

	if row.account.Status == domain.AccountStatusClosed {
		return nil, domain.ErrAccountNotActive
	}
	row.account.Balance = row.account.Balance.Add(amount)
	row.account.UpdatedAt = time.Now().UTC()
	a := row.account
	return &a, nil
}

// Debit atomically subtracts amount if the account is ACTIVE and funded.
func (r *AccountRepository) Debit(_ context.Context, id uuid.UUID, amount decimal.Decimal) (*domain.Account, error) {
	row, err := r.row(id)
	if err != nil {
		return nil, err
	}

	row.mu.Lock()
	defer row.mu.Unlock()

	if row.account.Status != domain.AccountStatusActive {
		return nil, domain.ErrAccountNotActive
	}
	if row.account.Balance.LessThan(amount) {
		return nil, domain.ErrInsufficientFunds
	}
	row.account.Balance = row.account.Balance.Sub(amount)
	row.account.UpdatedAt = time.Now().UTC()
	a := row.account
	return &a, nil
}

// UpdateStatus sets the status only if it is currently from.
func (r *AccountRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to domain.AccountStatus, requireZeroBalance bool) (*domain.Account, error) {
	row, err := r.row(id)
	if err != nil {
		return nil, err
	}

	row.mu.Lock()
	defer row.mu.Unlock()

	if row.account.Status != from {
		return nil, domain.ErrStateConflict
	}
	if requireZeroBalance && !row.account.Balance.IsZero() {
		return nil, domain.ErrNonZeroBalance
	}
	row.account.Status = to
	row.account.UpdatedAt = time.Now().UTC()
	a := row.account
	return &a, nil
}

// SumBalanceByStatus totals the balances of accounts in the given status.
func (r *AccountRepository) SumBalanceByStatus(ctx context.Context, status domain.AccountStatus) (decimal.Decimal, error) {
	accounts, err := r.ListByStatus(ctx, status)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range accounts {
		total = total.Add(a.Balance)
	}
	return total, nil
}
