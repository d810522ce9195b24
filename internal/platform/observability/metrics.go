package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics groups the service counters. A nil *Metrics records nothing.
type Metrics struct {
	eventsPublished metric.Int64Counter
	rpcRequests     metric.Int64Counter
	brokerConnects  metric.Int64Counter
}

// NewMetrics registers the service instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	eventsPublished, err := meter.Int64Counter("inventory.events.published",
		metric.WithDescription("Stock events handed to the broker, by event type and outcome"),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, err
	}
	rpcRequests, err := meter.Int64Counter("inventory.rpc.requests",
		metric.WithDescription("RPC requests consumed, by queue and outcome"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	brokerConnects, err := meter.Int64Counter("inventory.broker.connects",
		metric.WithDescription("Broker connection loops, by outcome"),
		metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		eventsPublished: eventsPublished,
		rpcRequests:     rpcRequests,
		brokerConnects:  brokerConnects,
	}, nil
}

func (m *Metrics) EventPublished(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RPCRequest(ctx context.Context, queue, outcome string) {
	if m == nil {
		return
	}
	m.rpcRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) BrokerConnect(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.brokerConnects.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
