package domain_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efojunior25/payment-system/internal/domain"
	"github.com/efojunior25/payment-system/internal/memory"
)

func TestCreatePayment(t *testing.T) {
	env := newTestEnv(t)
	from := env.openAccount(t, "1000.00")
	to := env.openAccount(t, "0")

	p := env.transfer(t, from.ID, to.ID, "250.50")

	assert.Equal(t, domain.PaymentStatusPending, p.Status)
	assert.Equal(t, domain.StageNone, p.Stage)
	assert.Regexp(t, `^TXN-[0-9A-F]{8}-\d+$`, p.TransactionID)
	assert.Nil(t, p.ProcessedAt)

	stored, err := env.service.GetPaymentByTransactionID(context.Background(), p.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, stored.ID)

	// Creation never moves funds.
	assert.Equal(t, "1000.00", env.balance(t, from.ID))
	assert.Equal(t, "0.00", env.balance(t, to.ID))

	entries := env.audit.forEntity(p.ID.String())
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionCreate, entries[0].action)
	assert.Equal(t, p.TransactionID, entries[0].details["transaction_id"])
}

func TestCreatePayment_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	funded := env.openAccount(t, "100.00")
	dest := env.openAccount(t, "0")
	blocked := env.openAccount(t, "100.00")
	_, err := env.ledger.Block(ctx, blocked.ID)
	require.NoError(t, err)
	closed := env.openAccount(t, "0")
	_, err = env.ledger.Close(ctx, closed.ID)
	require.NoError(t, err)
	missing := uuid.New()

	ref := func(id uuid.UUID) *uuid.UUID { return &id }

	tests := []struct {
		name    string
		req     domain.CreatePaymentRequest
		wantErr error
	}{
		{
			name:    "zero amount",
			req:     domain.CreatePaymentRequest{FromAccountID: ref(funded.ID), ToAccountID: dest.ID, Amount: decimal.Zero, Type: domain.PaymentTypeTransfer},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			req:     domain.CreatePaymentRequest{FromAccountID: ref(funded.ID), ToAccountID: dest.ID, Amount: decimal.NewFromInt(-5), Type: domain.PaymentTypeTransfer},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "three decimal places",
			req:     domain.CreatePaymentRequest{FromAccountID: ref(funded.ID), ToAccountID: dest.ID, Amount: decimal.RequireFromString("1.005"), Type: domain.PaymentTypeTransfer},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "same account",
			req:     domain.CreatePaymentRequest{FromAccountID: ref(funded.ID), ToAccountID: funded.ID, Amount: decimal.NewFromInt(1), Type: domain.PaymentTypeTransfer},
			wantErr: domain.ErrSameAccount,
		},
		{
			name:    "transfer without source",
			req:     domain.CreatePaymentRequest{ToAccountID: dest.ID, Amount: decimal.NewFromInt(1), Type: domain.PaymentTypeTransfer},
			wantErr: domain.ErrMissingSourceAccount,
		},
		{
			name:    "card without source",
			req:     domain.CreatePaymentRequest{ToAccountID: dest.ID, Amount: decimal.NewFromInt(1), Type: domain.PaymentTypeCard},
			wantErr: domain.ErrMissingSourceAccount,
		},
		{
			name:    "unknown type",
			req:     domain.CreatePaymentRequest{FromAccountID: ref(funded.ID), ToAccountID: dest.ID, Amount: decimal.NewFromInt(1), Type: "CHEQUE"},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "description too long",
			req:     domain.CreatePaymentRequest{FromAccountID: ref(funded.ID), ToAccountID: dest.ID, Amount: decimal.NewFromInt(1), Type: domain.PaymentTypeTransfer, Description: strings.Repeat("x", 501)},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "external id too long",
			req:     domain.CreatePaymentRequest{FromAccountID: ref(funded.ID), ToAccountID: dest.ID, Amount: decimal.NewFromInt(1), Type: domain.PaymentTypeTransfer, ExternalID: strings.Repeat("x", 256)},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "missing source",
			req:     domain.CreatePaymentRequest{FromAccountID: ref(missing), ToAccountID: dest.ID, Amount: decimal.NewFromInt(1), Type: domain.PaymentTypeTransfer},
			wantErr: domain.ErrAccountNotFound,
		},
		{
			name:    "missing destination",
			req:     domain.CreatePaymentRequest{FromAccountID: ref(funded.ID), ToAccountID: missing, Amount: decimal.NewFromInt(1), Type: domain.PaymentTypeTransfer},
			wantErr: domain.ErrAccountNotFound,
		},
		{
			name:    "blocked source",
			req:     domain.CreatePaymentRequest{FromAccountID: ref(blocked.ID), ToAccountID: dest.ID, Amount: decimal.NewFromInt(1), Type: domain.PaymentTypeTransfer},
			wantErr: domain.ErrAccountNotActive,
		},
		{
			name:    "closed destination",
			req:     domain.CreatePaymentRequest{FromAccountID: ref(funded.ID), ToAccountID: closed.ID, Amount: decimal.NewFromInt(1), Type: domain.PaymentTypeTransfer},
			wantErr: domain.ErrAccountNotActive,
		},
		{
			name:    "transfer over balance",
			req:     domain.CreatePaymentRequest{FromAccountID: ref(funded.ID), ToAccountID: dest.ID, Amount: decimal.RequireFromString("100.01"), Type: domain.PaymentTypeTransfer},
			wantErr: domain.ErrInsufficientFunds,
		},
		{
			name:    "pix over balance",
			req:     domain.CreatePaymentRequest{FromAccountID: ref(funded.ID), ToAccountID: dest.ID, Amount: decimal.NewFromInt(101), Type: domain.PaymentTypePIX},
			wantErr: domain.ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.CreatePayment(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	none, err := env.service.ListByStatus(ctx, domain.PaymentStatusPending)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCreatePayment_TextLimitsCountCharacters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dest := env.openAccount(t, "0")

	tests := []struct {
		name        string
		description string
		externalID  string
		wantErr     error
	}{
		{name: "multibyte description at limit", description: strings.Repeat("ç", 500)},
		{name: "multibyte description over limit", description: strings.Repeat("ç", 501), wantErr: domain.ErrInvalidRequest},
		{name: "multibyte external id at limit", externalID: strings.Repeat("ü", 255)},
		{name: "multibyte external id over limit", externalID: strings.Repeat("ü", 256), wantErr: domain.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := env.service.CreatePayment(ctx, domain.CreatePaymentRequest{
				ToAccountID: dest.ID,
				Amount:      decimal.NewFromInt(1),
				Type:        domain.PaymentTypeBoleto,
				Description: tt.description,
				ExternalID:  tt.externalID,
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.description, p.Description)
			assert.Equal(t, tt.externalID, p.ExternalID)
		})
	}
}

func TestCreatePayment_InstrumentsWithoutBalanceCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	source := env.openAccount(t, "10.00")
	dest := env.openAccount(t, "0")

	// CARD is funded by the card network, so the source balance is irrelevant.
	card, err := env.service.CreatePayment(ctx, domain.CreatePaymentRequest{
		FromAccountID: &source.ID, ToAccountID: dest.ID, Amount: decimal.NewFromInt(500), Type: domain.PaymentTypeCard,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, card.Status)

	for _, typ := range []domain.PaymentType{domain.PaymentTypePIX, domain.PaymentTypeBoleto} {
		p, err := env.service.CreatePayment(ctx, domain.CreatePaymentRequest{
			ToAccountID: dest.ID, Amount: decimal.NewFromInt(500), Type: typ,
		})
		require.NoError(t, err, typ)
		assert.Nil(t, p.FromAccountID)
	}
}

func TestCreatePayment_RetriesDuplicateTransactionID(t *testing.T) {
	accounts := memory.NewAccountRepository()
	payments := memory.NewPaymentRepository()
	users := memory.NewUserRepository()
	ledger := domain.NewAccountLedger(accounts, users, nil, nil)
	allocator := &sequenceAllocator{ids: []string{"TXN-AAAAAAAA-1", "TXN-AAAAAAAA-1", "TXN-BBBBBBBB-2"}}
	service := domain.NewPaymentService(ledger, payments, memory.NewReconciliationRepository(), nil, allocator, nil)
	ctx := context.Background()

	dest, err := ledger.CreateAccount(ctx, seedUser(t, users))
	require.NoError(t, err)
	req := domain.CreatePaymentRequest{ToAccountID: dest.ID, Amount: decimal.NewFromInt(1), Type: domain.PaymentTypeBoleto}

	first, err := service.CreatePayment(ctx, req)
	require.NoError(t, err)
	second, err := service.CreatePayment(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, "TXN-AAAAAAAA-1", first.TransactionID)
	assert.Equal(t, "TXN-BBBBBBBB-2", second.TransactionID)
}

func TestCreatePayment_GivesUpAfterRepeatedDuplicates(t *testing.T) {
	accounts := memory.NewAccountRepository()
	users := memory.NewUserRepository()
	ledger := domain.NewAccountLedger(accounts, users, nil, nil)
	allocator := &sequenceAllocator{ids: []string{"TXN-AAAAAAAA-1"}}
	service := domain.NewPaymentService(ledger, memory.NewPaymentRepository(), memory.NewReconciliationRepository(), nil, allocator, nil)
	ctx := context.Background()

	dest, err := ledger.CreateAccount(ctx, seedUser(t, users))
	require.NoError(t, err)
	req := domain.CreatePaymentRequest{ToAccountID: dest.ID, Amount: decimal.NewFromInt(1), Type: domain.PaymentTypeBoleto}

	_, err = service.CreatePayment(ctx, req)
	require.NoError(t, err)
	_, err = service.CreatePayment(ctx, req)
	assert.ErrorIs(t, err, domain.ErrDuplicateTransactionID)
}

func TestCreatePayment_ConcurrentTransactionIDsAreUnique(t *testing.T) {
	env := newTestEnv(t)
	dest := env.openAccount(t, "0")
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := env.service.CreatePayment(ctx, domain.CreatePaymentRequest{
				ToAccountID: dest.ID, Amount: decimal.NewFromInt(1), Type: domain.PaymentTypeBoleto,
			})
			if assert.NoError(t, err) {
				ids <- p.TransactionID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate transaction id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestCancelPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	from := env.openAccount(t, "100.00")
	to := env.openAccount(t, "0")

	p := env.transfer(t, from.ID, to.ID, "10.00")

	cancelled, err := env.service.CancelPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.ProcessedAt)

	_, err = env.service.CancelPayment(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// Cancellation never moves funds.
	assert.Equal(t, "100.00", env.balance(t, from.ID))
	assert.Equal(t, "0.00", env.balance(t, to.ID))

	entries := env.audit.forEntity(p.ID.String())
	require.Len(t, entries, 2)
	assert.Equal(t, "PENDING", entries[1].details["old_status"])
	assert.Equal(t, "CANCELLED", entries[1].details["new_status"])
}

func TestCancelPayment_TerminalStates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	from := env.openAccount(t, "100.00")
	to := env.openAccount(t, "0")

	completed := env.transfer(t, from.ID, to.ID, "10.00")
	_, err := env.service.ProcessPayment(ctx, completed.ID)
	require.NoError(t, err)

	_, err = env.service.CancelPayment(ctx, completed.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)

	failed := env.transfer(t, from.ID, to.ID, "90.00")
	_, err = env.ledger.Debit(ctx, from.ID, decimal.NewFromInt(50))
	require.NoError(t, err)
	result, err := env.service.ProcessPayment(ctx, failed.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusFailed, result.Status)

	_, err = env.service.CancelPayment(ctx, failed.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = env.service.CancelPayment(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestCancelPayment_Processing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	from := env.openAccount(t, "100.00")
	to := env.openAccount(t, "0")

	t.Run("before any ledger mutation", func(t *testing.T) {
		p := env.transfer(t, from.ID, to.ID, "10.00")
		_, err := env.payments.UpdateState(ctx, p.ID,
			domain.PaymentState{Status: domain.PaymentStatusPending, Stage: domain.StageNone},
			domain.StateUpdate{To: domain.PaymentState{Status: domain.PaymentStatusProcessing, Stage: domain.StageNone}},
		)
		require.NoError(t, err)

		cancelled, err := env.service.CancelPayment(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusCancelled, cancelled.Status)
	})

	t.Run("after the debit", func(t *testing.T) {
		p := env.transfer(t, from.ID, to.ID, "10.00")
		_, err := env.payments.UpdateState(ctx, p.ID,
			domain.PaymentState{Status: domain.PaymentStatusPending, Stage: domain.StageNone},
			domain.StateUpdate{To: domain.PaymentState{Status: domain.PaymentStatusProcessing, Stage: domain.StageDebited}},
		)
		require.NoError(t, err)

		_, err = env.service.CancelPayment(ctx, p.ID)
		assert.ErrorIs(t, err, domain.ErrSettlementInProgress)

		current, err := env.service.GetPayment(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusProcessing, current.Status)
	})
}

func TestPaymentReads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.openAccount(t, "1000.00")
	b := env.openAccount(t, "0")
	c := env.openAccount(t, "0")

	var created []*domain.Payment
	for range 5 {
		created = append(created, env.transfer(t, a.ID, b.ID, "10.00"))
	}
	created = append(created, env.transfer(t, a.ID, c.ID, "20.00"))

	for _, p := range created[:3] {
		_, err := env.service.ProcessPayment(ctx, p.ID)
		require.NoError(t, err)
	}

	t.Run("list by account pages newest first", func(t *testing.T) {
		page, err := env.service.ListByAccount(ctx, b.ID, domain.PageRequest{Page: 0, Size: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		require.Len(t, page.Items, 2)
		assert.False(t, page.Items[0].CreatedAt.Before(page.Items[1].CreatedAt))

		last, err := env.service.ListByAccount(ctx, b.ID, domain.PageRequest{Page: 2, Size: 2})
		require.NoError(t, err)
		assert.Len(t, last.Items, 1)

		beyond, err := env.service.ListByAccount(ctx, b.ID, domain.PageRequest{Page: 9, Size: 2})
		require.NoError(t, err)
		assert.Empty(t, beyond.Items)

		source, err := env.service.ListByAccount(ctx, a.ID, domain.PageRequest{})
		require.NoError(t, err)
		assert.Equal(t, 6, source.Total)
		assert.Equal(t, 20, source.Size)
	})

	t.Run("list by status", func(t *testing.T) {
		completed, err := env.service.ListByStatus(ctx, domain.PaymentStatusCompleted)
		require.NoError(t, err)
		assert.Len(t, completed, 3)

		_, err = env.service.ListByStatus(ctx, domain.PaymentStatus("LOST"))
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("list by date range", func(t *testing.T) {
		all, err := env.service.ListByDateRange(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, all, 6)

		none, err := env.service.ListByDateRange(ctx, time.Now().Add(time.Hour), time.Now().Add(2*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, none)

		_, err = env.service.ListByDateRange(ctx, time.Now(), time.Now().Add(-time.Hour))
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("totals by type", func(t *testing.T) {
		total, err := env.service.TotalAmountByType(ctx, domain.PaymentTypeTransfer)
		require.NoError(t, err)
		assert.Equal(t, "30.00", domain.FormatAmount(total))

		zero, err := env.service.TotalAmountByType(ctx, domain.PaymentTypeCard)
		require.NoError(t, err)
		assert.True(t, zero.IsZero())

		_, err = env.service.TotalAmountByType(ctx, domain.PaymentType("CHEQUE"))
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("count by status since", func(t *testing.T) {
		pending, err := env.service.CountByStatusSince(ctx, domain.PaymentStatusPending, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.EqualValues(t, 3, pending)

		future, err := env.service.CountByStatusSince(ctx, domain.PaymentStatusPending, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, future)
	})
}
