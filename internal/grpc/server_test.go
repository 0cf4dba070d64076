package grpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

type toggleChecker struct {
	failing atomic.Bool
}

func (c *toggleChecker) Check(context.Context) error {
	if c.failing.Load() {
		return errors.New("connection refused")
	}
	return nil
}

// startServer serves s on an in-memory listener and returns a connected client.
func startServer(t *testing.T, s *grpc.Server) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	go func() {
		if err := s.Serve(lis); err != nil {
			t.Logf("Server exited with error: %v", err)
		}
	}()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHealthService(t *testing.T) {
	db := &toggleChecker{}
	broker := &toggleChecker{}
	monitor := NewHealthMonitor(map[string]Checker{"database": db, "rabbitmq": broker})
	require.True(t, monitor.Refresh(context.Background()))

	client := healthpb.NewHealthClient(startServer(t, NewServer(monitor)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.Status
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check("database"))

	broker.failing.Store(true)
	assert.False(t, monitor.Refresh(ctx))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check("database"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("rabbitmq"))

	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	monitor.Shutdown()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("database"))
}

func TestHealthMonitor_Run(t *testing.T) {
	db := &toggleChecker{}
	monitor := NewHealthMonitor(map[string]Checker{"database": db})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx, 10*time.Millisecond) }()

	db.failing.Store(true)
	require.Eventually(t, func() bool {
		resp, err := monitor.server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "database"})
		return err == nil && resp.Status == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestServerRegistersReflection(t *testing.T) {
	s := NewServer(NewHealthMonitor(nil))
	defer s.Stop()

	info := s.GetServiceInfo()
	assert.Contains(t, info, "grpc.health.v1.Health")

	reflection := false
	for name := range info {
		if strings.Contains(name, "ServerReflection") {
			reflection = true
		}
	}
	assert.True(t, reflection, "reflection service not registered")
}

func TestRecoveryInterceptor(t *testing.T) {
	interceptor := recoveryInterceptor(zap.NewNop())
	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/Panic"}

	_, err := interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))

	resp, err := interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}
