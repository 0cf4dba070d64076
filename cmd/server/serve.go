package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/efojunior25/payment-system/internal/audit"
	"github.com/efojunior25/payment-system/internal/domain"
	grpcserver "github.com/efojunior25/payment-system/internal/grpc"
	"github.com/efojunior25/payment-system/internal/handlers"
	"github.com/efojunior25/payment-system/internal/messaging"
	"github.com/efojunior25/payment-system/internal/metrics"
	"github.com/efojunior25/payment-system/internal/worker"
)

const (
	healthInterval  = 10 * time.Second
	shutdownTimeout = 15 * time.Second
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, gRPC health and metrics servers",
	Long: `Start the payment service.

The HTTP API listens on HTTP_PORT, the gRPC health service on GRPC_PORT
and Prometheus metrics on METRICS_PORT. Stalled settlements are
reconciled in the background.

Examples:
  payment-server serve
  STORE_DRIVER=memory payment-server serve
  payment-server serve --migrate`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply database migrations before serving")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	l := zap.L().Named("server")

	st, err := openStore(ctx, cfg.Database, serveMigrate)
	if err != nil {
		return err
	}
	defer st.close()
	l.Info("Store initialized", zap.String("driver", cfg.Database.Driver))

	var publisher audit.Publisher = audit.NewLogPublisher(zap.L().Named("audit"))
	if cfg.Audit.Enabled {
		rmq, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQ)
		if err != nil {
			return fmt.Errorf("failed to create audit publisher: %w", err)
		}
		defer rmq.Close()
		publisher = rmq
		st.checks["rabbitmq"] = rmq
	}
	recorder := audit.NewRecorder(publisher, cfg.Audit.BufferSize, cfg.Audit.Workers)

	settlement := metrics.NewSettlementMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		settlement,
		recorder,
	)

	users := domain.NewUserService(st.users, recorder)
	ledger := domain.NewAccountLedger(st.accounts, st.users, domain.CheckDigitGenerator{}, recorder)
	payments := domain.NewPaymentService(
		ledger,
		st.payments,
		st.reconciliations,
		st.tx,
		domain.NewTransactionIDAllocator(),
		recorder,
		domain.WithObserver(settlement),
	)

	httpChecks := make(map[string]handlers.Checker, len(st.checks))
	grpcChecks := make(map[string]grpcserver.Checker, len(st.checks))
	for name, c := range st.checks {
		httpChecks[name] = c
		grpcChecks[name] = c
	}
	monitor := grpcserver.NewHealthMonitor(grpcChecks)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handlers.NewHandler(users, ledger, payments, httpChecks).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.Handler(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcSrv := grpcserver.NewServer(monitor)
	reconciler := worker.NewReconciler(payments, cfg.Reconciler.Interval, cfg.Reconciler.StallAfter)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l.Info("HTTP server starting", zap.String("addr", httpSrv.Addr))
		return listenAndServe(httpSrv)
	})
	g.Go(func() error {
		l.Info("Metrics server starting", zap.String("addr", metricsSrv.Addr))
		return listenAndServe(metricsSrv)
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("failed to listen on port %s: %w", cfg.GRPCPort, err)
		}
		l.Info("gRPC server starting", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error { return monitor.Run(gctx, healthInterval) })
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		l.Info("Shutting down")
		monitor.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcSrv.GracefulStop()
		return errors.Join(
			httpSrv.Shutdown(shutdownCtx),
			metricsSrv.Shutdown(shutdownCtx),
		)
	})

	err = g.Wait()

	// Servers are stopped; drain queued audit events before the publisher closes.
	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if cerr := recorder.Close(flushCtx); cerr != nil {
		l.Warn("Audit events not flushed", zap.Error(cerr), zap.Uint64("dropped", recorder.Dropped()))
	}

	if err != nil {
		return err
	}
	l.Info("Server stopped")
	return nil
}

func listenAndServe(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
	}
	return nil
}
