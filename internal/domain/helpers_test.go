package domain_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/efojunior25/payment-system/internal/domain"
	"github.com/efojunior25/payment-system/internal/memory"
)

type testEnv struct {
	users           *memory.UserRepository
	accounts        *faultyAccounts
	payments        *faultyPayments
	reconciliations *memory.ReconciliationRepository
	audit           *recordingSink
	observer        *recordingObserver
	ledger          *domain.AccountLedger
	service         *domain.PaymentService
}

func newTestEnv(t *testing.T, opts ...domain.PaymentServiceOption) *testEnv {
	t.Helper()

	env := &testEnv{
		users:           memory.NewUserRepository(),
		accounts:        &faultyAccounts{AccountRepository: memory.NewAccountRepository()},
		payments:        &faultyPayments{PaymentRepository: memory.NewPaymentRepository()},
		reconciliations: memory.NewReconciliationRepository(),
		audit:           &recordingSink{},
		observer:        &recordingObserver{},
	}
	env.ledger = domain.NewAccountLedger(env.accounts, env.users, nil, env.audit)
	opts = append([]domain.PaymentServiceOption{domain.WithObserver(env.observer)}, opts...)
	env.service = domain.NewPaymentService(env.ledger, env.payments, env.reconciliations, nil, nil, env.audit, opts...)
	return env
}

// openAccount creates an account funded with balance.
func (e *testEnv) openAccount(t *testing.T, balance string) *domain.Account {
	t.Helper()
	ctx := context.Background()

	account, err := e.ledger.CreateAccount(ctx, e.owner(t))
	require.NoError(t, err)

	amount := decimal.RequireFromString(balance)
	if amount.IsPositive() {
		account, err = e.ledger.Credit(ctx, account.ID, amount)
		require.NoError(t, err)
	}
	return account
}

// owner registers a new active user and returns its id.
func (e *testEnv) owner(t *testing.T) uuid.UUID {
	t.Helper()
	return seedUser(t, e.users)
}

var userSeq atomic.Int64

// seedUser stores an active user with a unique email and document.
func seedUser(t *testing.T, users domain.UserRepository) uuid.UUID {
	t.Helper()
	n := userSeq.Add(1)
	u := domain.NewUser(domain.UserRequest{
		Email:    fmt.Sprintf("owner%d@example.com", n),
		Document: fmt.Sprintf("%011d", n),
		FullName: "Test Owner",
	})
	require.NoError(t, users.Create(context.Background(), u))
	return u.ID
}

func (e *testEnv) balance(t *testing.T, id uuid.UUID) string {
	t.Helper()
	b, err := e.ledger.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return domain.FormatAmount(b)
}

func (e *testEnv) transfer(t *testing.T, from, to uuid.UUID, amount string) *domain.Payment {
	t.Helper()
	p, err := e.service.CreatePayment(context.Background(), domain.CreatePaymentRequest{
		FromAccountID: &from,
		ToAccountID:   to,
		Amount:        decimal.RequireFromString(amount),
		Type:          domain.PaymentTypeTransfer,
	})
	require.NoError(t, err)
	return p
}

// faultyAccounts lets a test make Credit fail or panic for one account.
type faultyAccounts struct {
	*memory.AccountRepository

	mu          sync.Mutex
	creditErr   map[uuid.UUID]error
	creditPanic map[uuid.UUID]bool
	debitErr    error
}

func (f *faultyAccounts) failCredit(id uuid.UUID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.creditErr == nil {
		f.creditErr = make(map[uuid.UUID]error)
	}
	f.creditErr[id] = err
}

func (f *faultyAccounts) panicOnCredit(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.creditPanic == nil {
		f.creditPanic = make(map[uuid.UUID]bool)
	}
	f.creditPanic[id] = true
}

func (f *faultyAccounts) failDebit(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.debitErr = err
}

func (f *faultyAccounts) Credit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*domain.Account, error) {
	f.mu.Lock()
	err, fail := f.creditErr[id]
	explode := f.creditPanic[id]
	f.mu.Unlock()

	if explode {
		panic("credit exploded")
	}
	if fail {
		return nil, err
	}
	return f.AccountRepository.Credit(ctx, id, amount)
}

func (f *faultyAccounts) Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*domain.Account, error) {
	f.mu.Lock()
	err := f.debitErr
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return f.AccountRepository.Debit(ctx, id, amount)
}

// faultyPayments lets a test fail state writes into a given target state.
type faultyPayments struct {
	*memory.PaymentRepository

	mu       sync.Mutex
	failures map[domain.PaymentState]int // remaining failures, negative fails forever
}

func (f *faultyPayments) failWrites(to domain.PaymentState, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures == nil {
		f.failures = make(map[domain.PaymentState]int)
	}
	f.failures[to] = times
}

func (f *faultyPayments) UpdateState(ctx context.Context, id uuid.UUID, from domain.PaymentState, update domain.StateUpdate) (*domain.Payment, error) {
	f.mu.Lock()
	n := f.failures[update.To]
	if n != 0 {
		if n > 0 {
			f.failures[update.To] = n - 1
		}
		f.mu.Unlock()
		return nil, errDiskWrite
	}
	f.mu.Unlock()
	return f.PaymentRepository.UpdateState(ctx, id, from, update)
}

var errDiskWrite = errors.New("disk write failed")

type auditEntry struct {
	entityType string
	entityID   string
	action     string
	details    map[string]any
}

type recordingSink struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (s *recordingSink) Record(_ context.Context, entityType, entityID, action string, details map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, auditEntry{entityType, entityID, action, details})
}

func (s *recordingSink) forEntity(id string) []auditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auditEntry
	for _, e := range s.entries {
		if e.entityID == id {
			out = append(out, e)
		}
	}
	return out
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []domain.PaymentStatus
}

func (o *recordingObserver) ObserveSettlement(_ domain.PaymentType, status domain.PaymentStatus, _ domain.SettlementStage, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, status)
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.outcomes)
}

type sequenceGenerator struct {
	mu      sync.Mutex
	numbers []string
}

func (g *sequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.numbers[0]
	if len(g.numbers) > 1 {
		g.numbers = g.numbers[1:]
	}
	return n
}

type sequenceAllocator struct {
	mu  sync.Mutex
	ids []string
}

func (a *sequenceAllocator) Allocate() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.ids[0]
	if len(a.ids) > 1 {
		a.ids = a.ids[1:]
	}
	return id
}
