package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/efojunior25/payment-system/internal/domain"
)

const paymentColumns = `
	id, transaction_id, from_account_id, to_account_id,
	amount::text, type, status, stage,
	description, external_id, failure_reason,
	created_at, updated_at, processed_at`

// PaymentRepository implements domain.PaymentRepository using PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{
		pool: pool,
	}
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var amount, typ, status, stage string

	err := row.Scan(
		&p.ID,
		&p.TransactionID,
		&p.FromAccountID,
		&p.ToAccountID,
		&amount,
		&typ,
		&status,
		&stage,
		&p.Description,
		&p.ExternalID,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
	}
	p.Type = domain.PaymentType(typ)
	p.Status = domain.PaymentStatus(status)
	p.Stage = domain.SettlementStage(stage)
	return &p, nil
}

func collectPayments(rows pgx.Rows) ([]*domain.Payment, error) {
	defer rows.Close()

	payments := make([]*domain.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return payments, nil
}

// Create persists a new payment record.
func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (
			id, transaction_id, from_account_id, to_account_id,
			amount, type, status, stage,
			description, external_id, failure_reason,
			created_at, updated_at, processed_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		payment.ID,
		payment.TransactionID,
		payment.FromAccountID,
		payment.ToAccountID,
		payment.Amount.String(),
		string(payment.Type),
		string(payment.Status),
		string(payment.Stage),
		payment.Description,
		payment.ExternalID,
		payment.FailureReason,
		payment.CreatedAt,
		payment.UpdatedAt,
		payment.ProcessedAt,
	)
	if err != nil {
		// Check for unique constraint violation on transaction_id
		if isPgUniqueViolation(err) {
			return domain.ErrDuplicateTransactionID
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}

	return nil
}

// GetByID retrieves a payment by its unique identifier.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	p, err := scanPayment(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// GetByTransactionID retrieves a payment by its transaction id.
func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1`

	p, err := scanPayment(conn(ctx, r.pool).QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment by transaction id: %w", err)
	}
	return p, nil
}

// ListByAccount pages through payments where the account is source or destination.
func (r *PaymentRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, page domain.PageRequest) (domain.Page[*domain.Payment], error) {
	page = page.Normalize()
	q := conn(ctx, r.pool)
	result := domain.Page[*domain.Payment]{Page: page.Page, Size: page.Size}

	countQuery := `SELECT COUNT(*) FROM payments WHERE from_account_id = $1 OR to_account_id = $1`
	if err := q.QueryRow(ctx, countQuery, accountID).Scan(&result.Total); err != nil {
		return result, fmt.Errorf("failed to count payments by account: %w", err)
	}

	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := q.Query(ctx, query, accountID, page.Size, page.Offset())
	if err != nil {
		return result, fmt.Errorf("failed to list payments by account: %w", err)
	}
	result.Items, err = collectPayments(rows)
	if err != nil {
		return result, err
	}
	return result, nil
}

// ListByStatus returns the payments in the given status, newest first.
func (r *PaymentRepository) ListByStatus(ctx context.Context, status domain.PaymentStatus) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE status = $1 ORDER BY created_at DESC`

	rows, err := conn(ctx, r.pool).Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list payments by status: %w", err)
	}
	return collectPayments(rows)
}

// ListByDateRange returns payments created within [start, end], newest first.
func (r *PaymentRepository) ListByDateRange(ctx context.Context, start, end time.Time) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE created_at BETWEEN $1 AND $2
		ORDER BY created_at DESC`

	rows, err := conn(ctx, r.pool).Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments by date range: %w", err)
	}
	return collectPayments(rows)
}

// ListStale returns up to limit payments in status not updated since before, oldest first.
func (r *PaymentRepository) ListStale(ctx context.Context, status domain.PaymentStatus, before time.Time, limit int) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`

	rows, err := conn(ctx, r.pool).Query(ctx, query, string(status), before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale payments: %w", err)
	}
	return collectPayments(rows)
}

// UpdateState applies update only if the payment is currently in state from.
// processed_at is written once; later updates keep the first value.
func (r *PaymentRepository) UpdateState(ctx context.Context, id uuid.UUID, from domain.PaymentState, update domain.StateUpdate) (*domain.Payment, error) {
	query := `
		UPDATE payments
		SET status = $4,
		    stage = $5,
		    failure_reason = CASE WHEN $6::text = '' THEN failure_reason ELSE $6::text END,
		    processed_at = COALESCE(processed_at, $7::timestamptz),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2 AND stage = $3
		RETURNING ` + paymentColumns

	p, err := scanPayment(conn(ctx, r.pool).QueryRow(ctx, query,
		id,
		string(from.Status),
		string(from.Stage),
		string(update.To.Status),
		string(update.To.Stage),
		update.FailureReason,
		update.ProcessedAt,
	))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update payment state: %w", err)
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, domain.ErrStateConflict
}

// SumAmountByType totals the amounts of payments of type t in status.
func (r *PaymentRepository) SumAmountByType(ctx context.Context, t domain.PaymentType, status domain.PaymentStatus) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0)::text FROM payments WHERE type = $1 AND status = $2`

	var total string
	if err := conn(ctx, r.pool).QueryRow(ctx, query, string(t), string(status)).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum payment amounts: %w", err)
	}
	return decimal.NewFromString(total)
}

// CountByStatusSince counts payments in status created at or after since.
func (r *PaymentRepository) CountByStatusSince(ctx context.Context, status domain.PaymentStatus, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM payments WHERE status = $1 AND created_at >= $2`

	var count int64
	if err := conn(ctx, r.pool).QueryRow(ctx, query, string(status), since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return count, nil
}
