package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxTransactionIDAttempts bounds re-allocation after a duplicate transaction id.
const maxTransactionIDAttempts = 3

// CreatePaymentRequest carries the input of PaymentService.CreatePayment.
type CreatePaymentRequest struct {
	FromAccountID *uuid.UUID // Optional for PIX and BOLETO
	ToAccountID   uuid.UUID
	Amount        decimal.Decimal
	Type          PaymentType
	Description   string
	ExternalID    string
}

// PaymentService handles payment creation, settlement and cancellation.
// It coordinates the ledger and repositories and owns the payment state machine.
type PaymentService struct {
	ledger          *AccountLedger
	payments        PaymentRepository
	reconciliations ReconciliationRepository
	txManager       TransactionManager
	allocator       TransactionIDAllocator
	audit           AuditSink
	observer        SettlementObserver
	logger          *zap.Logger
	now             func() time.Time
}

// PaymentServiceOption customises a PaymentService.
type PaymentServiceOption func(*PaymentService)

// WithObserver registers a settlement observer (e.g. metrics).
func WithObserver(o SettlementObserver) PaymentServiceOption {
	return func(s *PaymentService) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) PaymentServiceOption {
	return func(s *PaymentService) {
		s.now = now
	}
}

// NewPaymentService creates a new instance of PaymentService.
// Pass nil for txManager when the store has no multi-row transactions;
// settlement then relies on compensation alone. Pass nil for audit if no
// audit events should be emitted.
func NewPaymentService(
	ledger *AccountLedger,
	payments PaymentRepository,
	reconciliations ReconciliationRepository,
	txManager TransactionManager,
	allocator TransactionIDAllocator,
	audit AuditSink,
	opts ...PaymentServiceOption,
) *PaymentService {
	if txManager == nil {
		txManager = passthroughTxManager{}
	}
	if allocator == nil {
		allocator = NewTransactionIDAllocator()
	}
	if audit == nil {
		audit = nopAuditSink{}
	}
	s := &PaymentService{
		ledger:          ledger,
		payments:        payments,
		reconciliations: reconciliations,
		txManager:       txManager,
		allocator:       allocator,
		audit:           audit,
		observer:        nopObserver{},
		logger:          zap.L().Named("payment_service"),
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePayment validates a payment request against the ledger and persists
// it as PENDING.
//
// The balance check performed here is advisory only: it gives early feedback
// while the authoritative check is the atomic debit during ProcessPayment.
func (s *PaymentService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	var source *Account
	if req.FromAccountID != nil {
		account, err := s.ledger.GetAccount(ctx, *req.FromAccountID)
		if err != nil {
			return nil, fmt.Errorf("source account: %w", err)
		}
		if account.Status != AccountStatusActive {
			return nil, fmt.Errorf("source account: %w", ErrAccountNotActive)
		}
		source = account
	}

	destination, err := s.ledger.GetAccount(ctx, req.ToAccountID)
	if err != nil {
		return nil, fmt.Errorf("destination account: %w", err)
	}
	if destination.Status != AccountStatusActive {
		return nil, fmt.Errorf("destination account: %w", ErrAccountNotActive)
	}

	if source != nil && RequiresBalanceCheck(req.Type) && source.Balance.LessThan(req.Amount) {
		return nil, ErrInsufficientFunds
	}

	for attempt := 1; attempt <= maxTransactionIDAttempts; attempt++ {
		payment := NewPayment(req, s.allocator.Allocate())
		err := s.payments.Create(ctx, payment)
		if errors.Is(err, ErrDuplicateTransactionID) {
			s.logger.Warn("Transaction id collision, re-allocating",
				zap.String("transaction_id", payment.TransactionID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create payment: %w", err)
		}

		s.audit.Record(ctx, EntityPayment, payment.ID.String(), ActionCreate, map[string]any{
			"description":    "payment created",
			"transaction_id": payment.TransactionID,
			"amount":         FormatAmount(payment.Amount),
			"payment_type":   string(payment.Type),
			"new_status":     string(payment.Status),
		})
		s.logger.Info("Payment created",
			zap.String("payment_id", payment.ID.String()),
			zap.String("transaction_id", payment.TransactionID),
			zap.String("payment_type", string(payment.Type)),
			zap.String("amount", FormatAmount(payment.Amount)),
		)
		return payment, nil
	}

	return nil, fmt.Errorf("failed to allocate a unique transaction id after %d attempts: %w",
		maxTransactionIDAttempts, ErrDuplicateTransactionID)
}

// GetPayment retrieves a payment by id.
func (s *PaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.payments.GetByID(ctx, id)
}

// GetPaymentByTransactionID retrieves a payment by its transaction id.
func (s *PaymentService) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*Payment, error) {
	return s.payments.GetByTransactionID(ctx, transactionID)
}

// ListByAccount pages through the payments sent or received by an account.
func (s *PaymentService) ListByAccount(ctx context.Context, accountID uuid.UUID, page PageRequest) (Page[*Payment], error) {
	return s.payments.ListByAccount(ctx, accountID, page.Normalize())
}

// ListByStatus returns the payments in a status.
func (s *PaymentService) ListByStatus(ctx context.Context, status PaymentStatus) ([]*Payment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", ErrInvalidRequest, status)
	}
	return s.payments.ListByStatus(ctx, status)
}

// ListByDateRange returns the payments created within [start, end].
func (s *PaymentService) ListByDateRange(ctx context.Context, start, end time.Time) ([]*Payment, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end is before start", ErrInvalidRequest)
	}
	return s.payments.ListByDateRange(ctx, start, end)
}

// TotalAmountByType totals the COMPLETED payments of an instrument.
func (s *PaymentService) TotalAmountByType(ctx context.Context, t PaymentType) (decimal.Decimal, error) {
	if _, ok := instruments[t]; !ok {
		return decimal.Zero, fmt.Errorf("%w: unknown payment type %q", ErrInvalidRequest, t)
	}
	return s.payments.SumAmountByType(ctx, t, PaymentStatusCompleted)
}

// CountByStatusSince counts payments in a status created at or after since.
func (s *PaymentService) CountByStatusSince(ctx context.Context, status PaymentStatus, since time.Time) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("%w: unknown payment status %q", ErrInvalidRequest, status)
	}
	return s.payments.CountByStatusSince(ctx, status, since)
}

// CancelPayment cancels a payment that has not started moving funds.
func (s *PaymentService) CancelPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	for attempt := 1; attempt <= maxStatusAttempts; attempt++ {
		payment, err := s.payments.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		switch {
		case payment.Status == PaymentStatusCompleted:
			return nil, ErrAlreadySettled
		case payment.Status == PaymentStatusCancelled:
			return nil, ErrAlreadyCancelled
		case payment.Status == PaymentStatusProcessing && payment.Stage != StageNone:
			return nil, ErrSettlementInProgress
		case !CanTransitionPayment(payment.Status, PaymentStatusCancelled):
			return nil, fmt.Errorf("%w: payment is %s", ErrInvalidState, payment.Status)
		}

		updated, err := s.payments.UpdateState(ctx, id, payment.State(), StateUpdate{
			To: PaymentState{Status: PaymentStatusCancelled, Stage: payment.Stage},
		})
		if errors.Is(err, ErrStateConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to cancel payment: %w", err)
		}

		s.audit.Record(ctx, EntityPayment, id.String(), ActionUpdate, map[string]any{
			"description":    "payment cancelled",
			"transaction_id": updated.TransactionID,
			"old_status":     string(payment.Status),
			"new_status":     string(updated.Status),
		})
		s.logger.Info("Payment cancelled",
			zap.String("payment_id", id.String()),
			zap.String("old_status", string(payment.Status)),
		)
		return updated, nil
	}

	return nil, fmt.Errorf("failed to cancel payment: %w", ErrStateConflict)
}
