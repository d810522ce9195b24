package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"inventorybus/internal/platform/rabbitmq"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type stubBroker struct {
	err error
}

func (b stubBroker) Connect(context.Context) error { return b.err }

type stubConsumer struct {
	attached context.Context
	queues   map[string]int
	waited   bool
}

func (c *stubConsumer) Attach(ctx context.Context) { c.attached = ctx }

func (c *stubConsumer) Subscribe(queue string, workers int, _ rabbitmq.Handler) {
	if c.queues == nil {
		c.queues = map[string]int{}
	}
	c.queues[queue] = workers
}

func (c *stubConsumer) Wait() { c.waited = true }

func runConsumerService(t *testing.T, broker Broker) *stubConsumer {
	t.Helper()
	return runConsumerServiceWithLogger(t, broker, zaptest.NewLogger(t))
}

func runConsumerServiceWithLogger(t *testing.T, broker Broker, logger *zap.Logger) *stubConsumer {
	t.Helper()
	h, _, _ := newTestHandler(t)
	consumer := &stubConsumer{}
	svc := NewConsumerService(broker, consumer, h, 3, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer service did not stop")
	}
	return consumer
}

func TestConsumerServiceSubscribesBothQueues(t *testing.T) {
	consumer := runConsumerService(t, stubBroker{})

	assert.Equal(t, map[string]int{
		"inventory_stock_check":  3,
		"inventory_stock_deduct": 3,
	}, consumer.queues)
	assert.NotNil(t, consumer.attached)
	assert.True(t, consumer.waited)
}

func TestConsumerServiceSurvivesUnreachableBroker(t *testing.T) {
	consumer := runConsumerService(t, stubBroker{err: errors.New("rabbitmq: no broker channel available")})

	assert.Len(t, consumer.queues, 2)
	assert.True(t, consumer.waited)
}

func TestConsumerServiceLeavesPoolLoggingToTheConsumer(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	runConsumerServiceWithLogger(t, stubBroker{}, zap.New(core))

	// The stub consumer starts no pools, so nothing may claim they are running.
	assert.Zero(t, logs.FilterMessageSnippet("started").Len())
	assert.Zero(t, logs.FilterMessageSnippet("Broker unavailable").Len())
	assert.Equal(t, 1, logs.FilterMessage("Consumer service finished. Shutting down...").Len())
}
