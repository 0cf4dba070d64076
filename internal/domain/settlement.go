package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// staleBatchSize bounds how many stalled payments one RecoverStalled call handles.
const staleBatchSize = 100

// errCreditApplied marks a settlement fault raised after the destination
// credit succeeded but before SETTLED was persisted.
var errCreditApplied = errors.New("credit already applied")

// ProcessPayment settles a PENDING payment.
//
// The payment is first claimed with a conditional PENDING -> PROCESSING
// update, so of any number of concurrent callers exactly one settles it and
// the rest get ErrInvalidState. Business failures (insufficient funds, a
// missing or inactive account) are recorded on the payment as FAILED and
// returned with a nil error; the error return is reserved for faults.
//
// Settlement steps run inside one transaction. Each step that moves funds
// is also recorded as a settlement stage, so a crash between steps leaves
// a payment RecoverStalled can finish or compensate.
func (s *PaymentService) ProcessPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	payment, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != PaymentStatusPending {
		return nil, fmt.Errorf("%w: payment is %s, only PENDING payments can be processed",
			ErrInvalidState, payment.Status)
	}

	claimed, err := s.payments.UpdateState(ctx, id,
		PaymentState{Status: PaymentStatusPending, Stage: StageNone},
		StateUpdate{To: PaymentState{Status: PaymentStatusProcessing, Stage: StageNone}},
	)
	if errors.Is(err, ErrStateConflict) {
		return nil, fmt.Errorf("%w: payment was claimed or cancelled concurrently", ErrInvalidState)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim payment: %w", err)
	}

	started := time.Now()
	log := s.logger.With(
		zap.String("payment_id", id.String()),
		zap.String("transaction_id", claimed.TransactionID),
	)
	log.Info("Settling payment",
		zap.String("payment_type", string(claimed.Type)),
		zap.String("amount", FormatAmount(claimed.Amount)),
	)

	final, err := s.settle(ctx, claimed)
	if err != nil {
		log.Error("Settlement fault, recovering payment", zap.Error(err))
		// Recovery must run even if the caller's context is already done.
		credited := errors.Is(err, errCreditApplied)
		final, err = s.recoverPayment(context.WithoutCancel(ctx), id, "settlement fault: "+err.Error(), credited)
		if err != nil {
			log.Error("Failed to recover payment, leaving it for the reconciler", zap.Error(err))
			return nil, fmt.Errorf("failed to settle payment: %w", err)
		}
	}

	s.observer.ObserveSettlement(final.Type, final.Status, final.Stage, time.Since(started))
	s.recordOutcome(ctx, PaymentStatusPending, final)

	log.Info("Payment settled",
		zap.String("status", string(final.Status)),
		zap.String("stage", string(final.Stage)),
		zap.String("failure_reason", final.FailureReason),
		zap.Duration("elapsed", time.Since(started)),
	)
	return final, nil
}

// RecoverStalled finishes payments that have been PROCESSING for longer than
// olderThan, typically after a crash mid-settlement. It returns the number of
// payments moved out of PROCESSING.
func (s *PaymentService) RecoverStalled(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.payments.ListStale(ctx, PaymentStatusProcessing, s.now().Add(-olderThan), staleBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stalled payments: %w", err)
	}

	recovered := 0
	for _, p := range stale {
		if err := ctx.Err(); err != nil {
			return recovered, err
		}
		final, err := s.recoverPayment(ctx, p.ID, fmt.Sprintf("stalled in PROCESSING since %s", p.UpdatedAt.Format(time.RFC3339)), false)
		if err != nil {
			s.logger.Error("Failed to recover stalled payment",
				zap.String("payment_id", p.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if final.Status == PaymentStatusProcessing {
			continue
		}
		recovered++
		s.observer.ObserveSettlement(final.Type, final.Status, final.Stage, s.now().Sub(p.UpdatedAt))
		s.recordOutcome(ctx, PaymentStatusProcessing, final)
	}

	if recovered > 0 {
		s.logger.Warn("Recovered stalled payments", zap.Int("count", recovered))
	}
	return recovered, nil
}

func (s *PaymentService) settle(ctx context.Context, p *Payment) (*Payment, error) {
	var final *Payment
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		final, err = s.settleSteps(txCtx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

func (s *PaymentService) settleSteps(ctx context.Context, p *Payment) (final *Payment, err error) {
	defer func() {
		if r := recover(); r != nil {
			final, err = nil, fmt.Errorf("panic during settlement: %v", r)
		}
	}()

	if err := s.lockAccounts(ctx, p); err != nil {
		if isBusinessFailure(err) {
			return s.fail(ctx, p.ID, StageNone, StageNone, err.Error())
		}
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}

	stage := StageCrediting
	if debitsSource(p) {
		if _, err := s.ledger.Debit(ctx, *p.FromAccountID, p.Amount); err != nil {
			if isBusinessFailure(err) {
				return s.fail(ctx, p.ID, StageNone, StageNone, "debit failed: "+err.Error())
			}
			return nil, fmt.Errorf("failed to debit source account: %w", err)
		}
		stage = StageDebited
	}

	_, err = s.payments.UpdateState(ctx, p.ID,
		PaymentState{Status: PaymentStatusProcessing, Stage: StageNone},
		StateUpdate{To: PaymentState{Status: PaymentStatusProcessing, Stage: stage}},
	)
	if errors.Is(err, ErrStateConflict) {
		// Cancelled after the claim: undo the debit, leave it CANCELLED.
		return s.abandonCancelled(ctx, p, stage)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record settlement stage: %w", err)
	}

	if _, err := s.ledger.Credit(ctx, p.ToAccountID, p.Amount); err != nil {
		if !isBusinessFailure(err) {
			return nil, fmt.Errorf("failed to credit destination account: %w", err)
		}
		reason := "credit failed: " + err.Error()
		outcome := StageNone
		if stage == StageDebited {
			outcome, err = s.compensate(ctx, p, reason)
			if err != nil {
				return nil, err
			}
		}
		return s.fail(ctx, p.ID, stage, outcome, reason)
	}

	_, err = s.payments.UpdateState(ctx, p.ID,
		PaymentState{Status: PaymentStatusProcessing, Stage: stage},
		StateUpdate{To: PaymentState{Status: PaymentStatusProcessing, Stage: StageSettled}},
	)
	if err != nil {
		return nil, errors.Join(errCreditApplied, fmt.Errorf("failed to record settled stage: %w", err))
	}

	now := s.now()
	completed, err := s.payments.UpdateState(ctx, p.ID,
		PaymentState{Status: PaymentStatusProcessing, Stage: StageSettled},
		StateUpdate{To: PaymentState{Status: PaymentStatusCompleted, Stage: StageSettled}, ProcessedAt: &now},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to complete payment: %w", err)
	}
	return completed, nil
}

// lockAccounts locks the accounts involved in sorted id order so two
// opposite-direction settlements cannot deadlock.
func (s *PaymentService) lockAccounts(ctx context.Context, p *Payment) error {
	ids := []uuid.UUID{p.ToAccountID}
	if p.FromAccountID != nil {
		ids = append(ids, *p.FromAccountID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		if _, err := s.ledger.accounts.Lock(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// compensate credits the debited amount back to the source. A business
// failure of the credit-back strands the funds: a reconciliation record is
// written and StageReconcile returned.
func (s *PaymentService) compensate(ctx context.Context, p *Payment, reason string) (SettlementStage, error) {
	_, err := s.ledger.Credit(ctx, *p.FromAccountID, p.Amount)
	if err == nil {
		s.logger.Warn("Debit compensated",
			zap.String("payment_id", p.ID.String()),
			zap.String("account_id", p.FromAccountID.String()),
			zap.String("amount", FormatAmount(p.Amount)),
		)
		return StageCompensated, nil
	}
	if !isBusinessFailure(err) {
		return "", fmt.Errorf("failed to compensate debit: %w", err)
	}

	rec := &Reconciliation{
		ID:            uuid.New(),
		PaymentID:     p.ID,
		TransactionID: p.TransactionID,
		AccountID:     *p.FromAccountID,
		Amount:        p.Amount,
		Reason:        fmt.Sprintf("%s; compensation failed: %v", reason, err),
		CreatedAt:     s.now(),
	}
	if err := s.reconciliations.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to record reconciliation: %w", err)
	}
	s.logger.Error("Compensation failed, funds need reconciliation",
		zap.String("payment_id", p.ID.String()),
		zap.String("reconciliation_id", rec.ID.String()),
		zap.String("amount", FormatAmount(p.Amount)),
		zap.Error(err),
	)
	return StageReconcile, nil
}

// fail moves a PROCESSING payment to FAILED. Losing the update to a
// concurrent cancel is not an error: the fresh payment is returned.
func (s *PaymentService) fail(ctx context.Context, id uuid.UUID, from, outcome SettlementStage, reason string) (*Payment, error) {
	now := s.now()
	failed, err := s.payments.UpdateState(ctx, id,
		PaymentState{Status: PaymentStatusProcessing, Stage: from},
		StateUpdate{
			To:            PaymentState{Status: PaymentStatusFailed, Stage: outcome},
			FailureReason: reason,
			ProcessedAt:   &now,
		},
	)
	if errors.Is(err, ErrStateConflict) {
		return s.payments.GetByID(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return failed, nil
}

// abandonCancelled handles a payment cancelled between claim and stage
// record. The stage is kept on the CANCELLED payment so stranded funds
// stay visible.
func (s *PaymentService) abandonCancelled(ctx context.Context, p *Payment, stage SettlementStage) (*Payment, error) {
	current, err := s.payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if stage != StageDebited {
		return current, nil
	}

	outcome, err := s.compensate(ctx, p, "payment cancelled during settlement")
	if err != nil {
		return nil, err
	}
	updated, err := s.payments.UpdateState(ctx, p.ID, current.State(), StateUpdate{
		To: PaymentState{Status: current.Status, Stage: outcome},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record compensation: %w", err)
	}
	return updated, nil
}

// recoverPayment drives a PROCESSING payment to a terminal state based on
// the last settlement stage it recorded. credited reports that this process
// saw the destination credit succeed; a DEBITED or CREDITING stage that
// survived the fault then means the credit stands and the payment completes.
// After a rollback the stage reads NONE and credited is ignored.
func (s *PaymentService) recoverPayment(ctx context.Context, id uuid.UUID, reason string, credited bool) (*Payment, error) {
	var final *Payment
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		p, err := s.payments.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if p.Status != PaymentStatusProcessing {
			final = p
			return nil
		}

		switch {
		case p.Stage == StageSettled,
			credited && (p.Stage == StageDebited || p.Stage == StageCrediting):
			now := s.now()
			final, err = s.payments.UpdateState(txCtx, id, p.State(), StateUpdate{
				To:          PaymentState{Status: PaymentStatusCompleted, Stage: StageSettled},
				ProcessedAt: &now,
			})
			return err
		case p.Stage == StageDebited:
			outcome, err := s.compensate(txCtx, p, reason)
			if err != nil {
				return err
			}
			final, err = s.fail(txCtx, id, StageDebited, outcome, reason)
			return err
		default:
			// NONE and CREDITING moved no funds that are still held.
			final, err = s.fail(txCtx, id, p.Stage, StageNone, reason)
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

func (s *PaymentService) recordOutcome(ctx context.Context, from PaymentStatus, p *Payment) {
	details := map[string]any{
		"description":    "payment processed",
		"transaction_id": p.TransactionID,
		"old_status":     string(from),
		"new_status":     string(p.Status),
		"stage":          string(p.Stage),
	}
	if p.FailureReason != "" {
		details["failure_reason"] = p.FailureReason
	}
	s.audit.Record(ctx, EntityPayment, p.ID.String(), ActionUpdate, details)
}
