package inventory

import (
	"context"
	"encoding/json"

	"inventorybus/internal/config"
	platformkafka "inventorybus/internal/platform/kafka"
	"inventorybus/internal/platform/observability"
	"inventorybus/internal/platform/rabbitmq"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher delivers stock events downstream.
type EventPublisher interface {
	PublishStockEvent(ctx context.Context, event StockEvent) error
}

// BusPublisher is the broker publish call used for stock events.
type BusPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload any, opts ...rabbitmq.PublishOption) error
}

// BusEventPublisher publishes stock events to the inventory exchange and, when
// a Kafka producer is configured, mirrors them to the stock-events topic.
// Only the broker publish decides the outcome; the mirror is best effort.
type BusEventPublisher struct {
	bus     BusPublisher
	mirror  platformkafka.Producer
	logger  observability.Logger
	metrics *observability.Metrics
}

// NewBusEventPublisher creates the publisher. mirror may be nil.
func NewBusEventPublisher(bus BusPublisher, mirror platformkafka.Producer, logger observability.Logger, metrics *observability.Metrics) *BusEventPublisher {
	return &BusEventPublisher{bus: bus, mirror: mirror, logger: logger, metrics: metrics}
}

func (p *BusEventPublisher) PublishStockEvent(ctx context.Context, event StockEvent) error {
	key := event.EventType.RoutingKey()
	err := p.bus.Publish(ctx, config.InventoryExchange, key, event,
		rabbitmq.WithMessageID(event.EventID),
		rabbitmq.WithType(string(event.EventType)),
	)
	if err != nil {
		p.metrics.EventPublished(ctx, string(event.EventType), "failed")
		return err
	}
	p.metrics.EventPublished(ctx, string(event.EventType), "published")
	p.logger.Info("📤 Stock event published",
		zap.String("event_id", event.EventID),
		zap.String("routing_key", key),
		zap.String("product_code", event.ProductCode),
		zap.Int("previous_quantity", event.PreviousQuantity),
		zap.Int("new_quantity", event.NewQuantity),
	)

	p.mirrorEvent(ctx, event)
	return nil
}

func (p *BusEventPublisher) mirrorEvent(ctx context.Context, event StockEvent) {
	if p.mirror == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("❌ Failed to serialize stock event for Kafka", zap.Error(err), zap.String("event_id", event.EventID))
		return
	}
	msg := kafka.Message{
		Key:   []byte(event.ProductCode),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	}
	if err := p.mirror.WriteMessage(ctx, msg); err != nil {
		p.logger.Warn("⚠️ Failed to mirror stock event to Kafka",
			zap.Error(err),
			zap.String("event_id", event.EventID),
			zap.String("product_code", event.ProductCode),
		)
	}
}
