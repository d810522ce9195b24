package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"inventorybus/internal/platform/observability"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrPublishFailed is returned when a message could not be published even after
// one reconnect-and-retry.
var ErrPublishFailed = errors.New("rabbitmq: publish failed")

// ChannelProvider hands out the current channel and replaces broken ones.
type ChannelProvider interface {
	Channel(ctx context.Context) (Channel, error)
	Reconnect(ctx context.Context, stale Channel) (Channel, error)
}

// PublishOption adjusts an outgoing message.
type PublishOption func(*amqp.Publishing)

// WithMessageID sets the AMQP message id.
func WithMessageID(id string) PublishOption {
	return func(p *amqp.Publishing) { p.MessageId = id }
}

// WithCorrelationID sets the AMQP correlation id.
func WithCorrelationID(id string) PublishOption {
	return func(p *amqp.Publishing) { p.CorrelationId = id }
}

// WithType sets the AMQP type property.
func WithType(t string) PublishOption {
	return func(p *amqp.Publishing) { p.Type = t }
}

// Transient marks the message as non-persistent.
func Transient() PublishOption {
	return func(p *amqp.Publishing) { p.DeliveryMode = amqp.Transient }
}

// Publisher serialises payloads to JSON and publishes them on the shared channel.
type Publisher struct {
	conn    ChannelProvider
	timeout time.Duration
	logger  observability.Logger
}

// NewPublisher creates a Publisher. timeout bounds each individual publish call.
func NewPublisher(conn ChannelProvider, timeout time.Duration, logger observability.Logger) *Publisher {
	return &Publisher{conn: conn, timeout: timeout, logger: logger}
}

// Publish JSON-encodes payload and publishes it persistently. A failed publish is
// retried once on a fresh channel; a second failure returns ErrPublishFailed.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, payload any, opts ...PublishOption) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", routingKey, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      InjectTrace(ctx),
		Body:         body,
	}
	for _, opt := range opts {
		opt(&msg)
	}
	return p.send(ctx, exchange, routingKey, msg)
}

// Reply publishes payload to the caller's reply queue through the default
// exchange, carrying the caller's correlation id unchanged.
func (p *Publisher) Reply(ctx context.Context, replyTo, correlationID string, payload any) error {
	return p.Publish(ctx, "", replyTo, payload, WithCorrelationID(correlationID), Transient())
}

func (p *Publisher) send(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	ch, err := p.conn.Channel(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	firstErr := p.publishOnce(ctx, ch, exchange, key, msg)
	if firstErr == nil {
		return nil
	}

	p.logger.Warn("⚠️ Publish failed, reconnecting and retrying once",
		zap.String("exchange", exchange),
		zap.String("routing_key", key),
		zap.Error(firstErr),
	)

	ch, err = p.conn.Reconnect(ctx, ch)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, errors.Join(firstErr, err))
	}
	if err := p.publishOnce(ctx, ch, exchange, key, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (p *Publisher) publishOnce(ctx context.Context, ch Channel, exchange, key string, msg amqp.Publishing) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return ch.PublishWithContext(ctx, exchange, key, false, false, msg)
}
