package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/efojunior25/payment-system/internal/audit"
	"github.com/efojunior25/payment-system/internal/config"
)

// errInvalidEvent marks messages that can never be stored; they are dropped, not requeued.
var errInvalidEvent = errors.New("invalid audit event")

// AuditStore persists consumed audit events.
type AuditStore interface {
	InsertEvent(ctx context.Context, event audit.Event) error
}

// RabbitMQConsumer consumes audit events from RabbitMQ
type RabbitMQConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  config.RabbitMQConfig
	store   AuditStore
	logger  *zap.Logger
}

// NewRabbitMQConsumer creates a new RabbitMQ consumer bound to the audit exchange
func NewRabbitMQConsumer(cfg config.RabbitMQConfig, store AuditStore) (*RabbitMQConsumer, error) {
	conn, channel, err := dial(cfg.URL, cfg.Exchange)
	if err != nil {
		return nil, err
	}

	// Declare queue
	queue, err := channel.QueueDeclare(
		cfg.Queue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		closeAll(channel, conn)
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange with routing key
	err = channel.QueueBind(
		queue.Name,     // queue name
		cfg.RoutingKey, // routing key
		cfg.Exchange,   // exchange
		false,
		nil,
	)
	if err != nil {
		closeAll(channel, conn)
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	logger := zap.L().Named("rabbitmq-consumer")
	logger.Info("RabbitMQ consumer initialized",
		zap.String("exchange", cfg.Exchange),
		zap.String("queue", cfg.Queue),
		zap.String("routing_key", cfg.RoutingKey),
	)

	return newConsumer(conn, channel, cfg, store, logger), nil
}

func newConsumer(conn *amqp.Connection, channel *amqp.Channel, cfg config.RabbitMQConfig, store AuditStore, logger *zap.Logger) *RabbitMQConsumer {
	return &RabbitMQConsumer{
		conn:    conn,
		channel: channel,
		config:  cfg,
		store:   store,
		logger:  logger,
	}
}

// Start begins consuming messages from the queue and blocks until ctx is done
func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	// Register consumer
	msgs, err := c.channel.Consume(
		c.config.Queue, // queue
		"",             // consumer tag (auto-generated)
		false,          // auto-ack (we'll ack manually)
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("RabbitMQ consumer started", zap.String("queue", c.config.Queue))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping RabbitMQ consumer")
			return nil

		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.settle(msg, c.handleMessage(ctx, msg.Body))
		}
	}
}

// settle acknowledges a delivery according to the handling result.
func (c *RabbitMQConsumer) settle(msg amqp.Delivery, err error) {
	var ackErr error
	switch {
	case err == nil:
		ackErr = msg.Ack(false)
	case errors.Is(err, errInvalidEvent):
		c.logger.Warn("Discarding invalid audit message", zap.Error(err))
		ackErr = msg.Nack(false, false)
	default:
		c.logger.Error("Error handling audit message", zap.Error(err))
		ackErr = msg.Nack(false, true)
	}
	if ackErr != nil {
		c.logger.Error("Failed to acknowledge message", zap.Error(ackErr))
	}
}

// handleMessage decodes, validates and stores one audit event
func (c *RabbitMQConsumer) handleMessage(ctx context.Context, body []byte) error {
	var event audit.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: failed to unmarshal event: %v", errInvalidEvent, err)
	}

	if err := validateEvent(&event); err != nil {
		return err
	}

	if err := c.store.InsertEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	c.logger.Debug("Stored audit event",
		zap.String("event_id", event.ID),
		zap.String("entity_type", event.EntityType),
		zap.String("entity_id", event.EntityID),
		zap.String("action", event.Action),
	)
	return nil
}

// validateEvent validates the audit event structure
func validateEvent(event *audit.Event) error {
	if event.ID == "" {
		return fmt.Errorf("%w: event ID is required", errInvalidEvent)
	}
	if event.EntityType == "" {
		return fmt.Errorf("%w: entity type is required", errInvalidEvent)
	}
	if event.EntityID == "" {
		return fmt.Errorf("%w: entity ID is required", errInvalidEvent)
	}
	if event.Action == "" {
		return fmt.Errorf("%w: action is required", errInvalidEvent)
	}
	if event.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", errInvalidEvent)
	}
	return nil
}

// Close closes the RabbitMQ connection and channel
func (c *RabbitMQConsumer) Close() error {
	return closeAll(c.channel, c.conn)
}
