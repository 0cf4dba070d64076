package grpc

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const checkTimeout = 2 * time.Second

// Checker reports whether a dependency is reachable.
type Checker interface {
	Check(ctx context.Context) error
}

// HealthMonitor polls dependency checkers and publishes the result through
// the standard gRPC health service. Each checker is exposed as its own
// service name; the empty name reports SERVING only if all of them pass.
type HealthMonitor struct {
	server   *health.Server
	checkers map[string]Checker
	names    []string
	l        *zap.Logger
}

func NewHealthMonitor(checkers map[string]Checker) *HealthMonitor {
	names := make([]string, 0, len(checkers))
	for name := range checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	return &HealthMonitor{
		server:   health.NewServer(),
		checkers: checkers,
		names:    names,
		l:        zap.L().Named("health"),
	}
}

// Refresh runs every checker once and updates the published statuses.
// It reports whether every dependency is healthy.
func (m *HealthMonitor) Refresh(ctx context.Context) bool {
	healthy := true
	for _, name := range m.names {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := m.checkers[name].Check(cctx)
		cancel()

		st := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			healthy = false
			st = healthpb.HealthCheckResponse_NOT_SERVING
			m.l.Warn("Dependency check failed", zap.String("component", name), zap.Error(err))
		}
		m.server.SetServingStatus(name, st)
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	m.server.SetServingStatus("", overall)
	return healthy
}

// Run refreshes immediately and then once per interval until ctx is done.
func (m *HealthMonitor) Run(ctx context.Context, interval time.Duration) error {
	m.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING so clients drain before the server stops.
func (m *HealthMonitor) Shutdown() {
	m.server.Shutdown()
}
