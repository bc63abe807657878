// Package rabbitmq publishes lead events to a RabbitMQ topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Config locates the broker and exchange.
type Config struct {
	URL      string
	Exchange string
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type connection interface {
	Channel() (channel, error)
	Close() error
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c amqpConnection) Channel() (channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c amqpConnection) Close() error { return c.conn.Close() }

// Publisher sends each event as a persistent JSON message routed by event name.
type Publisher struct {
	conn     connection
	exchange string
	now      func() time.Time
}

// New dials the broker and declares a durable topic exchange.
func New(cfg Config) (*Publisher, error) {
	if cfg.URL == "" || cfg.Exchange == "" {
		return nil, fmt.Errorf("amqp url and exchange are required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
	}
	return newWithConnection(amqpConnection{conn: conn}, cfg.Exchange), nil
}

func newWithConnection(conn connection, exchange string) *Publisher {
	return &Publisher{conn: conn, exchange: exchange, now: time.Now}
}

// Publish marshals payload and publishes it with the event name as routing
// key. It returns the generated message id.
func (p *Publisher) Publish(ctx context.Context, event string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return "", fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	id := uuid.NewString()
	err = ch.PublishWithContext(ctx, p.exchange, event, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Type:         event,
		Timestamp:    p.now().UTC(),
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", event, err)
	}
	return id, nil
}

// Close closes the broker connection.
func (p *Publisher) Close() error {
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("close amqp connection: %w", err)
	}
	return nil
}
