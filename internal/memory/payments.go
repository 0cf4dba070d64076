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

type paymentRow struct {
	mu      sync.Mutex
	payment domain.Payment
}

func (row *paymentRow) snapshot() *domain.Payment {
	row.mu.Lock()
	defer row.mu.Unlock()
	return clonePayment(&row.payment)
}

func clonePayment(p *domain.Payment) *domain.Payment {
	c := *p
	if p.FromAccountID != nil {
		from := *p.FromAccountID
		c.FromAccountID = &from
	}
	if p.ProcessedAt != nil {
		at := *p.ProcessedAt
		c.ProcessedAt = &at
	}
	return &c
}

// PaymentRepository implements domain.PaymentRepository in memory.
type PaymentRepository struct {
	mu     sync.RWMutex
	rows   map[uuid.UUID]*paymentRow
	byTxID map[string]uuid.UUID
	now    func() time.Time
}

// NewPaymentRepository creates an empty PaymentRepository.
func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		rows:   make(map[uuid.UUID]*paymentRow),
		byTxID: make(map[string]uuid.UUID),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a new payment record.
func (r *PaymentRepository) Create(_ context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byTxID[payment.TransactionID]; taken {
		return domain.ErrDuplicateTransactionID
	}
	r.rows[payment.ID] = &paymentRow{payment: *clonePayment(payment)}
	r.byTxID[payment.TransactionID] = payment.ID
	return nil
}

func (r *PaymentRepository) row(id uuid.UUID) (*paymentRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return row, nil
}

// GetByID retrieves a payment by its unique identifier.
func (r *PaymentRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	row, err := r.row(id)
	if err != nil {
		return nil, err
	}
	return row.snapshot(), nil
}

// GetByTransactionID retrieves a payment by its transaction id.
func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	r.mu.RLock()
	id, ok := r.byTxID[transactionID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return r.GetByID(ctx, id)
}

// filter returns matching payments newest first.
func (r *PaymentRepository) filter(keep func(*domain.Payment) bool) []*domain.Payment {
	r.mu.RLock()
	rows := make([]*paymentRow, 0, len(r.rows))
	for _, row := range r.rows {
		rows = append(rows, row)
	}
	r.mu.RUnlock()

	result := make([]*domain.Payment, 0)
	for _, row := range rows {
		if p := row.snapshot(); keep(p) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result
}

// ListByAccount pages through payments touching the account, newest first.
func (r *PaymentRepository) ListByAccount(_ context.Context, accountID uuid.UUID, page domain.PageRequest) (domain.Page[*domain.Payment], error) {
	page = page.Normalize()
	all := r.filter(func(p *domain.Payment) bool {
		return p.ToAccountID == accountID || (p.FromAccountID != nil && *p.FromAccountID == accountID)
	})

	start := min(page.Offset(), len(all))
	end := min(start+page.Size, len(all))
	return domain.Page[*domain.Payment]{
		Items: all[start:end],
		Page:  page.Page,
		Size:  page.Size,
		Total: len(all),
	}, nil
}

// ListByStatus returns the payments in the given status, newest first.
func (r *PaymentRepository) ListByStatus(_ context.Context, status domain.PaymentStatus) ([]*domain.Payment, error) {
	return r.filter(func(p *domain.Payment) bool { return p.Status == status }), nil
}

// ListByDateRange returns payments created within [start, end], newest first.
func (r *PaymentRepository) ListByDateRange(_ context.Context, start, end time.Time) ([]*domain.Payment, error) {
	return r.filter(func(p *domain.Payment) bool {
		return !p.CreatedAt.Before(start) && !p.CreatedAt.After(end)
	}), nil
}

// ListStale returns up to limit payments in status not updated since before, oldest first.
func (r *PaymentRepository) ListStale(_ context.Context, status domain.PaymentStatus, before time.Time, limit int) ([]*domain.Payment, error) {
	stale := r.filter(func(p *domain.Payment) bool {
		return p.Status == status && p.UpdatedAt.Before(before)
	})
	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// UpdateState applies update only if the payment is currently in state from.
func (r *PaymentRepository) UpdateState(_ context.Context, id uuid.UUID, from domain.PaymentState, update domain.StateUpdate) (*domain.Payment, error) {
	row, err := r.row(id)
	if err != nil {
		return nil, err
	}

	row.mu.Lock()
	defer row.mu.Unlock()

	if row.payment.State() != from {
		return nil, domain.ErrStateConflict
	}
	row.payment.Status = update.To.Status
	row.payment.Stage = update.To.Stage
	if update.FailureReason != "" {
		row.payment.FailureReason = update.FailureReason
	}
	if update.ProcessedAt != nil && row.payment.ProcessedAt == nil {
		at := *update.ProcessedAt
		row.payment.ProcessedAt = &at
	}
	row.payment.UpdatedAt = r.now()
	return clonePayment(&row.payment), nil
}

// SumAmountByType totals the amounts of payments of type t in status.
func (r *PaymentRepository) SumAmountByType(_ context.Context, t domain.PaymentType, status domain.PaymentStatus) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range r.filter(func(p *domain.Payment) bool { return p.Type == t && p.Status == status }) {
		total = total.Add(p.Amount)
	}
	return total, nil
}

// CountByStatusSince counts payments in status created at or after since.
func (r *PaymentRepository) CountByStatusSince(_ context.Context, status domain.PaymentStatus, since time.Time) (int64, error) {
	matched := r.filter(func(p *domain.Payment) bool {
		return p.Status == status && !p.CreatedAt.Before(since)
	})
	return int64(len(matched)), nil
}
