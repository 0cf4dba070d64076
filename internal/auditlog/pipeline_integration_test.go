package auditlog_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/efojunior25/payment-system/internal/audit"
	"github.com/efojunior25/payment-system/internal/auditlog"
	"github.com/efojunior25/payment-system/internal/config"
	"github.com/efojunior25/payment-system/internal/messaging"
)

// TestAuditPipelineIntegration drives Recorder -> RabbitMQ -> consumer -> ClickHouse.
func TestAuditPipelineIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	clickhouseContainer, clickhouseHost, err := startClickHouseContainer(ctx)
	require.NoError(t, err)
	defer clickhouseContainer.Terminate(ctx)

	rabbitmqContainer, rabbitmqURL, err := startRabbitMQContainer(ctx)
	require.NoError(t, err)
	defer rabbitmqContainer.Terminate(ctx)

	client, err := auditlog.NewClient(ctx, config.ClickHouseConfig{
		Host:     clickhouseHost,
		Database: "default",
		User:     "default",
		Password: "clickhouse",
	})
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Check(ctx))

	repo := auditlog.NewRepository(client)
	require.NoError(t, repo.EnsureSchema(ctx))
	require.NoError(t, repo.EnsureSchema(ctx))

	rabbitCfg := config.RabbitMQConfig{
		URL:        rabbitmqURL,
		Queue:      "test.payments.audit",
		Exchange:   "test.payments.audit",
		RoutingKey: "audit.#",
	}

	// The consumer declares and binds the queue before anything is published.
	consumer, err := messaging.NewRabbitMQConsumer(rabbitCfg, repo)
	require.NoError(t, err)
	defer consumer.Close()

	consumerCtx, cancelConsumer := context.WithCancel(ctx)
	defer cancelConsumer()
	go func() {
		if err := consumer.Start(consumerCtx); err != nil {
			t.Logf("Consumer error: %v", err)
		}
	}()

	publisher, err := messaging.NewRabbitMQPublisher(rabbitCfg)
	require.NoError(t, err)
	defer publisher.Close()

	recorder := audit.NewRecorder(publisher, 64, 2)
	paymentID := "9b2f6c44-5d1e-4a57-9e0a-2f3c1d7a8b90"
	since := time.Now().Add(-time.Minute)

	recorder.Record(ctx, "PAYMENT", paymentID, "CREATE", map[string]any{"amount": "150.50", "type": "TRANSFER"})
	recorder.Record(ctx, "PAYMENT", paymentID, "UPDATE", map[string]any{"old_status": "PENDING", "new_status": "PROCESSING"})
	recorder.Record(ctx, "PAYMENT", paymentID, "UPDATE", map[string]any{"old_status": "PROCESSING", "new_status": "COMPLETED"})
	recorder.Record(ctx, "ACCOUNT", "acc-1", "CREATE", nil)

	closeCtx, cancelClose := context.WithTimeout(ctx, 10*time.Second)
	defer cancelClose()
	require.NoError(t, recorder.Close(closeCtx))
	assert.Zero(t, recorder.Dropped())
	assert.Zero(t, recorder.Failed())

	require.Eventually(t, func() bool {
		events, err := repo.ListByEntity(ctx, "PAYMENT", paymentID, 0)
		return err == nil && len(events) == 3
	}, 30*time.Second, 500*time.Millisecond)

	events, err := repo.ListByEntity(ctx, "PAYMENT", paymentID, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, paymentID, e.EntityID)
		assert.NotEmpty(t, e.ID)
	}

	all, err := repo.ListByEntity(ctx, "PAYMENT", paymentID, 0)
	require.NoError(t, err)
	statuses := make([]any, 0, len(all))
	for _, e := range all {
		if e.Action == "UPDATE" {
			statuses = append(statuses, e.Details["new_status"])
		}
	}
	assert.ElementsMatch(t, []any{"PROCESSING", "COMPLETED"}, statuses)

	require.Eventually(t, func() bool {
		n, err := repo.CountActionsSince(ctx, "CREATE", since)
		return err == nil && n == 2
	}, 30*time.Second, 500*time.Millisecond)

	updates, err := repo.CountActionsSince(ctx, "UPDATE", since)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), updates)

	future, err := repo.CountActionsSince(ctx, "UPDATE", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, future)
}

func startClickHouseContainer(ctx context.Context) (*clickhouse.ClickHouseContainer, string, error) {
	clickhouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:23.3.8.21-alpine",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword("clickhouse"),
		clickhouse.WithDatabase("default"),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start ClickHouse container: %w", err)
	}

	host, err := clickhouseContainer.ConnectionHost(ctx)
	if err != nil {
		return nil, "", err
	}

	return clickhouseContainer, host, nil
}

func startRabbitMQContainer(ctx context.Context) (testcontainers.Container, string, error) {
	rabbitmqContainer, err := rabbitmq.Run(ctx,
		"rabbitmq:3.13-management",
		rabbitmq.WithAdminUsername("guest"),
		rabbitmq.WithAdminPassword("guest"),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start RabbitMQ container: %w", err)
	}

	connectionString, err := rabbitmqContainer.AmqpURL(ctx)
	if err != nil {
		return nil, "", err
	}

	return rabbitmqContainer, connectionString, nil
}
