package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/efojunior25/payment-system/internal/config"
	"github.com/efojunior25/payment-system/internal/logging"
)

var Version = "dev"

var (
	cfg     *config.Config
	envFile string
	syncLog = func() error { return nil }
)

func main() {
	rootCmd := &cobra.Command{
		Use:               "payment-server",
		Short:             "Account ledger and payment processing service",
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) { _ = syncLog() },
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and installs the global logger for every subcommand.
func setup(*cobra.Command, []string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	cfg = config.Load()

	sync, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	syncLog = sync

	for _, w := range cfg.Warnings {
		zap.L().Warn("Config value ignored", zap.String("reason", w))
	}
	return nil
}
