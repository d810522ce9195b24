package inventory

import (
	"context"

	"inventorybus/internal/config"
	"inventorybus/internal/platform/rabbitmq"

	"go.uber.org/zap"
)

type ConsumerService interface {
	Start(ctx context.Context) error
}

// Broker is the connection handle the consumer service starts from.
type Broker interface {
	Connect(ctx context.Context) error
}

// RPCConsumer is the worker pool serving the RPC queues.
type RPCConsumer interface {
	Attach(ctx context.Context)
	Subscribe(queue string, workers int, h rabbitmq.Handler)
	Wait()
}

type RPCConsumerService struct {
	broker   Broker
	consumer RPCConsumer
	handler  *RPCHandler
	workers  int
	logger   *zap.Logger
}

func NewConsumerService(broker Broker, consumer RPCConsumer, handler *RPCHandler, workers int, logger *zap.Logger) ConsumerService {
	return &RPCConsumerService{
		broker:   broker,
		consumer: consumer,
		handler:  handler,
		workers:  workers,
		logger:   logger,
	}
}

// Start subscribes both RPC queues and serves them until ctx is cancelled. Pools
// start on the live channel, or with the broker's next on-connect hook, so an
// unreachable broker at startup is not fatal. The consumer logs each pool it
// starts.
func (c *RPCConsumerService) Start(ctx context.Context) error {
	c.consumer.Attach(ctx)
	c.consumer.Subscribe(config.StockCheckQueue, c.workers, c.handler.HandleStockCheck)
	c.consumer.Subscribe(config.StockDeductQueue, c.workers, c.handler.HandleStockDeduct)

	if err := c.broker.Connect(ctx); err != nil && ctx.Err() == nil {
		c.logger.Error("❌ Broker unavailable, RPC consumers will start on the next successful connect", zap.Error(err))
	}

	<-ctx.Done()
	c.consumer.Wait()

	c.logger.Info("Consumer service finished. Shutting down...")
	return nil
}
