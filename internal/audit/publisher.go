// Package audit publishes domain events (message created, deleted, group
// created) to a RabbitMQ topic exchange for downstream consumers. It is
// not on the real-time path: failures are logged and counted, never
// returned to the client.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends one event to the exchange under routingKey.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher dials RabbitMQ and declares the exchange. An empty URL or a
// failed dial yields a noop publisher so the chat service still starts.
func NewPublisher(amqpURL, exchange string, logger *zap.Logger) Publisher {
	if amqpURL == "" {
		logger.Info("domain events disabled, using noop publisher", zap.String("reason", "empty amqp url"))
		return noopPublisher{reason: "empty amqp url"}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		logger.Warn("domain events disabled, using noop publisher", zap.Error(err))
		return noopPublisher{reason: err.Error()}
	}

	ch, err := conn.Channel()
	if err != nil {
		logger.Warn("domain events disabled, using noop publisher", zap.Error(err))
		_ = conn.Close()
		return noopPublisher{reason: err.Error()}
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		logger.Warn("domain events disabled, using noop publisher", zap.Error(err))
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{reason: err.Error()}
	}

	logger.Info("rabbitmq connected", zap.String("exchange", exchange))
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange}
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// Mode reports the publisher mode for logging.
func Mode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "custom"
	}
}
