package app

import (
	"net/http"
	"time"

	"inventorybus/internal/api"
	"inventorybus/internal/inventory"
)

// ServiceFactory creates business logic services with their dependencies
type ServiceFactory struct {
	container *Container
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(container *Container) *ServiceFactory {
	return &ServiceFactory{
		container: container,
	}
}

// CreateEventPublisher publishes stock events through the broker, mirrored to
// Kafka when a producer is configured.
func (f *ServiceFactory) CreateEventPublisher() inventory.EventPublisher {
	return inventory.NewBusEventPublisher(
		f.container.Publisher(),
		f.container.MessageProducer(),
		f.container.Logger(),
		f.container.Metrics(),
	)
}

// CreateInventoryService creates a new inventory service instance
func (f *ServiceFactory) CreateInventoryService() inventory.Service {
	return inventory.NewService(
		f.container.Ledger(),
		f.CreateEventPublisher(),
		f.container.Logger(),
		f.container.Tracer(),
		inventory.WithCodeAttempts(f.container.Config().ProductCodeAttempts),
	)
}

// CreateConsumerService serves the stock check and deduct RPC queues
func (f *ServiceFactory) CreateConsumerService(service inventory.Service) inventory.ConsumerService {
	return inventory.NewConsumerService(
		f.container.Broker(),
		f.container.Consumer(),
		inventory.NewRPCHandler(service, f.container.Logger()),
		f.container.Config().RPCWorkers,
		f.container.Logger(),
	)
}

// CreateHTTPServer exposes the inventory service and the health endpoint
func (f *ServiceFactory) CreateHTTPServer(service inventory.Service) *http.Server {
	logger := f.container.Logger()
	router := api.NewRouter(api.NewHandler(service, logger), f.container.Broker(), logger)
	return &http.Server{
		Addr:              f.container.Config().HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
