package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/efojunior25/payment-system/internal/domain"
)

const accountColumns = `id, owner_id, account_number, balance::text, status, created_at, updated_at`

// AccountRepository implements domain.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{
		pool: pool,
	}
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	var balance, status string

	err := row.Scan(
		&account.ID,
		&account.OwnerID,
		&account.AccountNumber,
		&balance,
		&status,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance %q: %w", balance, err)
	}
	account.Status = domain.AccountStatus(status)
	return &account, nil
}

func collectAccounts(rows pgx.Rows) ([]*domain.Account, error) {
	defer rows.Close()

	accounts := make([]*domain.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

// Create persists a new account.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, owner_id, account_number, balance, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
	`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		account.ID,
		account.OwnerID,
		account.AccountNumber,
		account.Balance.String(),
		string(account.Status),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.ErrDuplicateAccountNumber
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// GetByID retrieves an account by its unique identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

// GetByNumber retrieves an account by its account number.
func (r *AccountRepository) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`

	account, err := scanAccount(conn(ctx, r.pool).QueryRow(ctx, query, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by number: %w", err)
	}

	return account, nil
}

// ListByOwner returns the accounts of one owner, oldest first.
func (r *AccountRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 ORDER BY created_at`

	rows, err := conn(ctx, r.pool).Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts by owner: %w", err)
	}
	return collectAccounts(rows)
}

// ListByStatus returns the accounts in the given status, oldest first.
func (r *AccountRepository) ListByStatus(ctx context.Context, status domain.AccountStatus) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE status = $1 ORDER BY created_at`

	rows, err := conn(ctx, r.pool).Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts by status: %w", err)
	}
	return collectAccounts(rows)
}

// Lock acquires a pessimistic lock on the account for the duration of the transaction.
// Uses SELECT ... FOR UPDATE to lock the row.
func (r *AccountRepository) Lock(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

	account, err := scanAccount(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	return account, nil
}

// Credit atomically adds amount to the balance of a non-CLOSED account.
func (r *AccountRepository) Credit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $2::numeric,
		    updated_at = NOW()
		WHERE id = $1 AND status <> 'CLOSED'
		RETURNING ` + accountColumns

	account, err := scanAccount(conn(ctx, r.pool).QueryRow(ctx, query, id, amount.String()))
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to credit account: %w", err)
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, domain.ErrAccountNotActive
}

// Debit atomically subtracts amount if the account is ACTIVE and balance >= amount.
// The condition and the write are one statement; the follow-up read only
// explains which condition failed.
func (r *AccountRepository) Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET balance = balance - $2::numeric,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE' AND balance >= $2::numeric
		RETURNING ` + accountColumns

	account, err := scanAccount(conn(ctx, r.pool).QueryRow(ctx, query, id, amount.String()))
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to debit account: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.AccountStatusActive {
		return nil, domain.ErrAccountNotActive
	}
	return nil, domain.ErrInsufficientFunds
}

// UpdateStatus sets the status to `to` only if it is currently `from`.
func (r *AccountRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.AccountStatus, requireZeroBalance bool) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET status = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2 AND (NOT $4::boolean OR balance = 0)
		RETURNING ` + accountColumns

	account, err := scanAccount(conn(ctx, r.pool).QueryRow(ctx, query, id, string(from), string(to), requireZeroBalance))
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update account status: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != from {
		return nil, domain.ErrStateConflict
	}
	return nil, domain.ErrNonZeroBalance
}

// SumBalanceByStatus totals the balances of accounts in the given status.
func (r *AccountRepository) SumBalanceByStatus(ctx context.Context, status domain.AccountStatus) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(balance), 0)::text FROM accounts WHERE status = $1`

	var total string
	if err := conn(ctx, r.pool).QueryRow(ctx, query, string(status)).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum balances: %w", err)
	}
	return decimal.NewFromString(total)
}
