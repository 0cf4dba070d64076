package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/efojunior25/payment-system/internal/config"
	"github.com/efojunior25/payment-system/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply the embedded schema migrations to the PostgreSQL database
named by DATABASE_URL. Already applied migrations are skipped.

Examples:
  payment-server migrate
  payment-server migrate --env-file deploy/.env`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	if cfg.Database.Driver != config.StoreDriverPostgres {
		return fmt.Errorf("migrate requires the %s store driver, got %q", config.StoreDriverPostgres, cfg.Database.Driver)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool.Pool)
	if err != nil {
		return err
	}
	zap.L().Info("Migrations applied", zap.Int("count", applied))
	return nil
}
