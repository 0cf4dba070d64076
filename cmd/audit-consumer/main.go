package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/efojunior25/payment-system/internal/auditlog"
	"github.com/efojunior25/payment-system/internal/config"
	grpcserver "github.com/efojunior25/payment-system/internal/grpc"
	"github.com/efojunior25/payment-system/internal/logging"
	"github.com/efojunior25/payment-system/internal/messaging"
)

var Version = "dev"

const healthInterval = 10 * time.Second

var (
	cfg          *config.Config
	envFile      string
	historyLimit int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "audit-consumer",
		Short: "Store audit events from RabbitMQ in ClickHouse",
		Long: `Consume audit events published by the payment server and store
them in ClickHouse. A gRPC health service reports the ClickHouse
connection on GRPC_PORT.`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		RunE:              runConsume,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	historyCmd := &cobra.Command{
		Use:   "history [entity-type] [entity-id]",
		Short: "Print stored audit events for one entity, newest first",
		Example: `  audit-consumer history PAYMENT 3f0c9a4e-0c35-4c5e-9a55-93d7f0f6f7aa
  audit-consumer history ACCOUNT 1b2e... -n 5`,
		Args: cobra.ExactArgs(2),
		RunE: runHistory,
	}
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum events")
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(*cobra.Command, []string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	cfg = config.Load()

	if _, err := logging.Setup(cfg.Log); err != nil {
		return err
	}
	for _, w := range cfg.Warnings {
		zap.L().Warn("Config value ignored", zap.String("reason", w))
	}
	return nil
}

func openRepository(ctx context.Context) (*auditlog.Client, *auditlog.Repository, error) {
	client, err := auditlog.NewClient(ctx, cfg.ClickHouse)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize ClickHouse client: %w", err)
	}
	repo := auditlog.NewRepository(client)
	if err := repo.EnsureSchema(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, repo, nil
}

func runConsume(cmd *cobra.Command, _ []string) error {
	defer zap.L().Sync()
	l := zap.L().Named("audit-consumer")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, repo, err := openRepository(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	l.Info("Connected to ClickHouse",
		zap.String("host", cfg.ClickHouse.Host),
		zap.String("database", cfg.ClickHouse.Database),
	)

	consumer, err := messaging.NewRabbitMQConsumer(cfg.RabbitMQ, repo)
	if err != nil {
		return fmt.Errorf("failed to create RabbitMQ consumer: %w", err)
	}
	defer consumer.Close()

	monitor := grpcserver.NewHealthMonitor(map[string]grpcserver.Checker{"clickhouse": client})
	grpcSrv := grpcserver.NewServer(monitor)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := consumer.Start(gctx); err != nil {
			return fmt.Errorf("RabbitMQ consumer error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("failed to listen on port %s: %w", cfg.GRPCPort, err)
		}
		l.Info("gRPC health server starting", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error { return monitor.Run(gctx, healthInterval) })
	g.Go(func() error {
		<-gctx.Done()
		l.Info("Shutting down")
		monitor.Shutdown()
		grpcSrv.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	l.Info("Audit consumer stopped")
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	client, repo, err := openRepository(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	events, err := repo.ListByEntity(ctx, args[0], args[1], historyLimit)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}
