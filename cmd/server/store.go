package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/efojunior25/payment-system/internal/config"
	"github.com/efojunior25/payment-system/internal/db"
	"github.com/efojunior25/payment-system/internal/domain"
	"github.com/efojunior25/payment-system/internal/memory"
)

type checker interface {
	Check(ctx context.Context) error
}

// store bundles the repositories backing the ledger and payment service.
type store struct {
	users           domain.UserRepository
	accounts        domain.AccountRepository
	payments        domain.PaymentRepository
	reconciliations domain.ReconciliationRepository
	tx              domain.TransactionManager // nil for the memory store
	checks          map[string]checker
	close           func()
}

func openStore(ctx context.Context, c config.DatabaseConfig, migrate bool) (*store, error) {
	switch c.Driver {
	case config.StoreDriverMemory:
		zap.L().Warn("Using in-memory store, data is lost on restart")
		return &store{
			users:           memory.NewUserRepository(),
			accounts:        memory.NewAccountRepository(),
			payments:        memory.NewPaymentRepository(),
			reconciliations: memory.NewReconciliationRepository(),
			checks:          map[string]checker{},
			close:           func() {},
		}, nil

	case config.StoreDriverPostgres:
		pool, err := db.NewPool(ctx, c.URL, c.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		if migrate {
			if _, err := db.Migrate(ctx, pool.Pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return &store{
			users:           db.NewUserRepository(pool.Pool),
			accounts:        db.NewAccountRepository(pool.Pool),
			payments:        db.NewPaymentRepository(pool.Pool),
			reconciliations: db.NewReconciliationRepository(pool.Pool),
			tx:              db.NewTransactionManager(pool.Pool),
			checks:          map[string]checker{"database": pool},
			close:           pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Driver)
	}
}
