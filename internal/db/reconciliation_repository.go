package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/efojunior25/payment-system/internal/domain"
)

// ReconciliationRepository implements domain.ReconciliationRepository using PostgreSQL.
type ReconciliationRepository struct {
	pool *pgxpool.Pool
}

// NewReconciliationRepository creates a new ReconciliationRepository.
func NewReconciliationRepository(pool *pgxpool.Pool) *ReconciliationRepository {
	return &ReconciliationRepository{pool: pool}
}

// Create persists a new reconciliation record.
func (r *ReconciliationRepository) Create(ctx context.Context, rec *domain.Reconciliation) error {
	query := `
		INSERT INTO reconciliations (id, payment_id, transaction_id, account_id, amount, reason, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)
	`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		rec.ID,
		rec.PaymentID,
		rec.TransactionID,
		rec.AccountID,
		rec.Amount.String(),
		rec.Reason,
		rec.Resolved,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation: %w", err)
	}
	return nil
}

// ListOpen returns unresolved records, oldest first.
func (r *ReconciliationRepository) ListOpen(ctx context.Context) ([]*domain.Reconciliation, error) {
	query := `
		SELECT id, payment_id, transaction_id, account_id, amount::text, reason, resolved, created_at
		FROM reconciliations
		WHERE NOT resolved
		ORDER BY created_at
	`

	rows, err := conn(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliations: %w", err)
	}
	defer rows.Close()

	records := make([]*domain.Reconciliation, 0)
	for rows.Next() {
		var rec domain.Reconciliation
		var amount string
		if err := rows.Scan(&rec.ID, &rec.PaymentID, &rec.TransactionID, &rec.AccountID,
			&amount, &rec.Reason, &rec.Resolved, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation: %w", err)
		}
		if rec.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reconciliations: %w", err)
	}
	return records, nil
}
