package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/efojunior25/payment-system/internal/audit"
	"github.com/efojunior25/payment-system/internal/config"
)

// RabbitMQPublisher publishes audit events to a topic exchange.
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger

	// amqp channels are not safe for concurrent publishing.
	mu sync.Mutex
}

// NewRabbitMQPublisher connects to RabbitMQ and declares the audit exchange.
func NewRabbitMQPublisher(cfg config.RabbitMQConfig) (*RabbitMQPublisher, error) {
	conn, channel, err := dial(cfg.URL, cfg.Exchange)
	if err != nil {
		return nil, err
	}

	logger := zap.L().Named("rabbitmq-publisher")
	logger.Info("RabbitMQ publisher initialized", zap.String("exchange", cfg.Exchange))

	return &RabbitMQPublisher{
		conn:     conn,
		channel:  channel,
		exchange: cfg.Exchange,
		logger:   logger,
	}, nil
}

// RoutingKey returns the routing key for an event, e.g. "audit.payment.update".
func RoutingKey(event audit.Event) string {
	return "audit." + strings.ToLower(event.EntityType) + "." + strings.ToLower(event.Action)
}

// Publish sends the event as a persistent JSON message.
func (p *RabbitMQPublisher) Publish(ctx context.Context, event audit.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		p.exchange,        // exchange
		RoutingKey(event), // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("Published audit event",
		zap.String("event_id", event.ID),
		zap.String("routing_key", RoutingKey(event)),
	)
	return nil
}

var errConnectionClosed = errors.New("rabbitmq connection closed")

// Check reports whether the broker connection is still open.
func (p *RabbitMQPublisher) Check(context.Context) error {
	if p.conn.IsClosed() || p.channel.IsClosed() {
		return errConnectionClosed
	}
	return nil
}

// Close closes the RabbitMQ connection and channel
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return closeAll(p.channel, p.conn)
}
