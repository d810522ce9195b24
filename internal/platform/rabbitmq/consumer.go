package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	"inventorybus/internal/config"
	"inventorybus/internal/platform/observability"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Handler turns one request body into the reply payload. It must not fail: every
// error is expected to be encoded into the returned payload.
type Handler func(ctx context.Context, body []byte) any

// Replier publishes an RPC reply.
type Replier interface {
	Reply(ctx context.Context, replyTo, correlationID string, payload any) error
}

type subscription struct {
	queue   string
	workers int
	handler Handler
}

// Consumer runs a bounded worker pool per subscribed queue. Pools are started by
// Resume, which is registered as an on-connect hook, so they come back after every
// reconnect. A queue subscribed after the hook already ran starts on that same
// channel. Deliveries are acked manually once the reply attempt has finished.
type Consumer struct {
	replier Replier
	logger  observability.Logger
	tracer  observability.Tracer
	metrics *observability.Metrics

	mu       sync.Mutex
	base     context.Context
	ch       Channel // channel of the latest Resume
	subs     []subscription
	stopping bool
	wg       sync.WaitGroup
}

// NewConsumer creates a Consumer with no subscriptions.
func NewConsumer(replier Replier, logger observability.Logger, tracer observability.Tracer, metrics *observability.Metrics) *Consumer {
	return &Consumer{
		replier: replier,
		logger:  logger,
		tracer:  tracer,
		metrics: metrics,
		base:    context.Background(),
	}
}

// Subscribe adds a queue served by workers goroutines. When the broker is
// already connected the pool starts right away; otherwise the next Resume
// starts it.
func (c *Consumer) Subscribe(queue string, workers int, h Handler) {
	if workers < 1 {
		workers = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := subscription{queue: queue, workers: workers, handler: h}
	c.subs = append(c.subs, sub)

	if c.ch == nil || c.stopping || c.base.Err() != nil {
		return
	}
	if err := c.startLocked(c.ch, sub); err != nil {
		c.logger.Warn("⚠️ Could not consume on the current channel, waiting for the next connect",
			zap.String("queue", queue),
			zap.Error(err),
		)
	}
}

// Attach sets the context that bounds every worker pool started afterwards.
func (c *Consumer) Attach(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = ctx
}

// Resume starts consuming every subscribed queue on ch.
func (c *Consumer) Resume(_ context.Context, ch Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping || c.base.Err() != nil {
		return nil
	}

	c.ch = ch
	for _, sub := range c.subs {
		if err := c.startLocked(ch, sub); err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) startLocked(ch Channel, sub subscription) error {
	tag := fmt.Sprintf("%s-%s", config.ServiceName, uuid.NewString())
	deliveries, err := ch.Consume(
		sub.queue, // queue
		tag,       // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", sub.queue, err)
	}

	c.wg.Add(sub.workers)
	for i := 0; i < sub.workers; i++ {
		go c.work(c.base, sub, deliveries)
	}
	c.logger.Info("👂 Consuming RPC queue",
		zap.String("queue", sub.queue),
		zap.String("consumer_tag", tag),
		zap.Int("workers", sub.workers),
	)
	return nil
}

// Wait blocks until all workers have exited. No pool is started after Wait.
func (c *Consumer) Wait() {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Consumer) work(ctx context.Context, sub subscription, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Debug("Delivery channel closed", zap.String("queue", sub.queue))
				return
			}
			c.process(ctx, sub, d)
		}
	}
}

func (c *Consumer) process(ctx context.Context, sub subscription, d amqp.Delivery) {
	msgCtx, span := c.tracer.Start(ExtractTrace(ctx, d.Headers), sub.queue+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", sub.queue),
			attribute.String("messaging.message.conversation_id", d.CorrelationId),
		),
	)
	defer span.End()

	c.logger.Info("📨 RPC request received",
		zap.String("queue", sub.queue),
		zap.String("correlation_id", d.CorrelationId),
		zap.String("reply_to", d.ReplyTo),
		zap.Uint64("delivery_tag", d.DeliveryTag),
	)

	resp := sub.handler(msgCtx, d.Body)

	outcome := "replied"
	if d.ReplyTo == "" {
		outcome = "no_reply_to"
		c.logger.Warn("⚠️ RPC request has no reply destination, dropping reply",
			zap.String("queue", sub.queue),
			zap.String("correlation_id", d.CorrelationId),
		)
	} else if err := c.replier.Reply(msgCtx, d.ReplyTo, d.CorrelationId, resp); err != nil {
		outcome = "reply_failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, "reply failed")
		c.logger.Error("❌ Failed to publish RPC reply",
			zap.String("queue", sub.queue),
			zap.String("correlation_id", d.CorrelationId),
			zap.Error(err),
		)
	} else {
		c.logger.Info("📤 RPC reply sent",
			zap.String("queue", sub.queue),
			zap.String("correlation_id", d.CorrelationId),
		)
	}

	// Acked after the reply attempt whatever its outcome.
	if err := d.Ack(false); err != nil {
		c.logger.Error("❌ Failed to ack delivery",
			zap.String("queue", sub.queue),
			zap.Uint64("delivery_tag", d.DeliveryTag),
			zap.Error(err),
		)
	}
	c.metrics.RPCRequest(msgCtx, sub.queue, outcome)
}
