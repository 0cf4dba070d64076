package db_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/efojunior25/payment-system/internal/db"
	"github.com/efojunior25/payment-system/internal/domain"
)

// TestPostgresSettlementIntegration spins up PostgreSQL, applies the
// migrations and drives the payment engine against the real store.
func TestPostgresSettlementIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, dbURL := startPostgresContainer(t, ctx)
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}()

	pool, err := db.NewPool(ctx, dbURL, 10)
	require.NoError(t, err)
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool.Pool)
	require.NoError(t, err)
	assert.Equal(t, 4, applied)
	// Recorded migrations are skipped.
	applied, err = db.Migrate(ctx, pool.Pool)
	require.NoError(t, err)
	assert.Zero(t, applied)

	users := db.NewUserRepository(pool.Pool)
	accounts := db.NewAccountRepository(pool.Pool)
	payments := db.NewPaymentRepository(pool.Pool)
	reconciliations := db.NewReconciliationRepository(pool.Pool)
	txManager := db.NewTransactionManager(pool.Pool)

	ledger := domain.NewAccountLedger(accounts, users, nil, nil)
	service := domain.NewPaymentService(ledger, payments, reconciliations, txManager, nil, nil)
	userService := domain.NewUserService(users, nil)

	var userSeq int
	newUser := func(t *testing.T) *domain.User {
		t.Helper()
		userSeq++
		u, err := userService.CreateUser(ctx, domain.UserRequest{
			Email:    fmt.Sprintf("owner%d@example.com", userSeq),
			Document: fmt.Sprintf("%011d", userSeq),
			FullName: "Integration Owner",
		})
		require.NoError(t, err)
		return u
	}

	open := func(t *testing.T, balance string) *domain.Account {
		t.Helper()
		a, err := ledger.CreateAccount(ctx, newUser(t).ID)
		require.NoError(t, err)
		if amount := decimal.RequireFromString(balance); amount.IsPositive() {
			_, err = ledger.Credit(ctx, a.ID, amount)
			require.NoError(t, err)
		}
		return a
	}
	balance := func(t *testing.T, id uuid.UUID) string {
		t.Helper()
		b, err := ledger.GetBalance(ctx, id)
		require.NoError(t, err)
		return domain.FormatAmount(b)
	}
	transfer := func(t *testing.T, from, to uuid.UUID, amount string) *domain.Payment {
		t.Helper()
		p, err := service.CreatePayment(ctx, domain.CreatePaymentRequest{
			FromAccountID: &from,
			ToAccountID:   to,
			Amount:        decimal.RequireFromString(amount),
			Type:          domain.PaymentTypeTransfer,
			Description:   "integration",
		})
		require.NoError(t, err)
		return p
	}

	t.Run("users", func(t *testing.T) {
		u := newUser(t)

		byEmail, err := userService.GetUserByEmail(ctx, "  "+u.Email)
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)
		byDoc, err := userService.GetUserByDocument(ctx, u.Document)
		require.NoError(t, err)
		assert.Equal(t, u.ID, byDoc.ID)

		_, err = userService.CreateUser(ctx, domain.UserRequest{Email: u.Email, Document: "99999999999", FullName: "Copy"})
		assert.ErrorIs(t, err, domain.ErrDuplicateEmail)
		_, err = userService.CreateUser(ctx, domain.UserRequest{Email: "copy@example.com", Document: u.Document, FullName: "Copy"})
		assert.ErrorIs(t, err, domain.ErrDuplicateDocument)

		other := newUser(t)
		_, err = userService.UpdateUser(ctx, other.ID, domain.UserRequest{Email: u.Email, Document: other.Document, FullName: "Other"})
		assert.ErrorIs(t, err, domain.ErrDuplicateEmail)

		updated, err := userService.UpdateUser(ctx, u.ID, domain.UserRequest{Email: "renamed@example.com", Document: u.Document, FullName: "Renamed", Phone: "11987654321"})
		require.NoError(t, err)
		assert.Equal(t, "renamed@example.com", updated.Email)
		assert.Equal(t, "11987654321", updated.Phone)
		assert.True(t, updated.Active)

		_, err = userService.DeactivateUser(ctx, u.ID)
		require.NoError(t, err)
		_, err = ledger.CreateAccount(ctx, u.ID)
		assert.ErrorIs(t, err, domain.ErrUserNotActive)

		active, err := userService.ListActiveUsers(ctx)
		require.NoError(t, err)
		for _, a := range active {
			assert.NotEqual(t, u.ID, a.ID)
		}

		page, err := userService.ListUsers(ctx, domain.PageRequest{Page: 0, Size: 1})
		require.NoError(t, err)
		assert.Len(t, page.Items, 1)
		assert.GreaterOrEqual(t, page.Total, 2)

		_, err = ledger.CreateAccount(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})

	t.Run("transfer settles", func(t *testing.T) {
		a := open(t, "1000.00")
		b := open(t, "0")

		p := transfer(t, a.ID, b.ID, "250.50")
		settled, err := service.ProcessPayment(ctx, p.ID)
		require.NoError(t, err)

		assert.Equal(t, domain.PaymentStatusCompleted, settled.Status)
		assert.Equal(t, domain.StageSettled, settled.Stage)
		assert.NotNil(t, settled.ProcessedAt)
		assert.Equal(t, "749.50", balance(t, a.ID))
		assert.Equal(t, "250.50", balance(t, b.ID))

		byTx, err := service.GetPaymentByTransactionID(ctx, p.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, p.ID, byTx.ID)
		assert.Equal(t, "integration", byTx.Description)
		require.NotNil(t, byTx.FromAccountID)
		assert.Equal(t, a.ID, *byTx.FromAccountID)
	})

	t.Run("concurrent debits never overdraw", func(t *testing.T) {
		a := open(t, "100.00")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = ledger.Debit(ctx, a.ID, decimal.NewFromInt(60))
			}()
		}
		wg.Wait()

		failures := 0
		for _, err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
				failures++
			}
		}
		assert.Equal(t, 1, failures)
		assert.Equal(t, "40.00", balance(t, a.ID))
	})

	t.Run("opposite transfers settle concurrently", func(t *testing.T) {
		a := open(t, "500.00")
		b := open(t, "500.00")

		var ps []*domain.Payment
		for range 10 {
			ps = append(ps, transfer(t, a.ID, b.ID, "10.00"), transfer(t, b.ID, a.ID, "10.00"))
		}

		var wg sync.WaitGroup
		for _, p := range ps {
			wg.Add(1)
			go func() {
				defer wg.Done()
				settled, err := service.ProcessPayment(ctx, p.ID)
				if assert.NoError(t, err) {
					assert.Equal(t, domain.PaymentStatusCompleted, settled.Status)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, "500.00", balance(t, a.ID))
		assert.Equal(t, "500.00", balance(t, b.ID))
	})

	t.Run("credit to closed account is compensated", func(t *testing.T) {
		a := open(t, "100.00")
		b := open(t, "0")

		p := transfer(t, a.ID, b.ID, "40.00")
		_, err := ledger.Close(ctx, b.ID)
		require.NoError(t, err)

		result, err := service.ProcessPayment(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusFailed, result.Status)
		assert.Equal(t, domain.StageCompensated, result.Stage)
		assert.Equal(t, "100.00", balance(t, a.ID))
	})

	t.Run("status changes", func(t *testing.T) {
		a := open(t, "5.00")

		_, err := ledger.Close(ctx, a.ID)
		assert.ErrorIs(t, err, domain.ErrNonZeroBalance)

		blocked, err := ledger.Block(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.AccountStatusBlocked, blocked.Status)

		_, err = ledger.Debit(ctx, a.ID, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, domain.ErrAccountNotActive)

		_, err = ledger.Block(ctx, a.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		_, err = ledger.ChangeStatus(ctx, uuid.New(), domain.AccountStatusBlocked)
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	})

	t.Run("duplicate transaction id is rejected", func(t *testing.T) {
		b := open(t, "0")
		p := domain.NewPayment(domain.CreatePaymentRequest{
			ToAccountID: b.ID, Amount: decimal.NewFromInt(1), Type: domain.PaymentTypeBoleto,
		}, "TXN-DEADBEEF-1")
		require.NoError(t, payments.Create(ctx, p))

		again := domain.NewPayment(domain.CreatePaymentRequest{
			ToAccountID: b.ID, Amount: decimal.NewFromInt(1), Type: domain.PaymentTypeBoleto,
		}, "TXN-DEADBEEF-1")
		assert.ErrorIs(t, payments.Create(ctx, again), domain.ErrDuplicateTransactionID)
	})

	t.Run("state update is conditional", func(t *testing.T) {
		b := open(t, "0")
		p, err := service.CreatePayment(ctx, domain.CreatePaymentRequest{
			ToAccountID: b.ID, Amount: decimal.NewFromInt(3), Type: domain.PaymentTypeBoleto,
		})
		require.NoError(t, err)

		pending := domain.PaymentState{Status: domain.PaymentStatusPending, Stage: domain.StageNone}
		processing := domain.StateUpdate{To: domain.PaymentState{Status: domain.PaymentStatusProcessing, Stage: domain.StageNone}}

		_, err = payments.UpdateState(ctx, p.ID, pending, processing)
		require.NoError(t, err)
		_, err = payments.UpdateState(ctx, p.ID, pending, processing)
		assert.ErrorIs(t, err, domain.ErrStateConflict)
		_, err = payments.UpdateState(ctx, uuid.New(), pending, processing)
		assert.ErrorIs(t, err, domain.ErrPaymentNotFound)

		stale, err := payments.ListStale(ctx, domain.PaymentStatusProcessing, time.Now().Add(time.Minute), 10)
		require.NoError(t, err)
		ids := make([]uuid.UUID, 0, len(stale))
		for _, s := range stale {
			ids = append(ids, s.ID)
		}
		assert.Contains(t, ids, p.ID)
	})

	t.Run("aggregates and pages", func(t *testing.T) {
		a := open(t, "100.00")
		b := open(t, "0")
		for range 3 {
			p := transfer(t, a.ID, b.ID, "5.00")
			_, err := service.ProcessPayment(ctx, p.ID)
			require.NoError(t, err)
		}

		page, err := service.ListByAccount(ctx, b.ID, domain.PageRequest{Page: 0, Size: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Len(t, page.Items, 2)

		total, err := service.TotalAmountByType(ctx, domain.PaymentTypeTransfer)
		require.NoError(t, err)
		assert.True(t, total.GreaterThanOrEqual(decimal.NewFromInt(15)))

		count, err := service.CountByStatusSince(ctx, domain.PaymentStatusCompleted, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, int64(3))

		active, err := ledger.TotalActiveBalance(ctx)
		require.NoError(t, err)
		assert.True(t, active.IsPositive())
	})
}

// startPostgresContainer starts a PostgreSQL testcontainer and returns the connection URL.
func startPostgresContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get postgres host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get postgres port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())
	return container, dbURL
}
