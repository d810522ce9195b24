package rabbitmq

import (
	"context"
	"fmt"

	"inventorybus/internal/config"
)

// Binding ties a declared queue to the exchange under a routing-key pattern.
type Binding struct {
	Queue string
	Key   string
}

// Topology is the set of broker objects the service depends on. Declaring it is
// idempotent, so it is safe to run on every reconnect.
type Topology struct {
	Exchange     string
	ExchangeKind string
	Queues       []string
	Bindings     []Binding
}

// InventoryTopology returns the inventory exchange with its two RPC queues.
func InventoryTopology() Topology {
	return Topology{
		Exchange:     config.InventoryExchange,
		ExchangeKind: "topic",
		Queues:       []string{config.StockCheckQueue, config.StockDeductQueue},
		Bindings: []Binding{
			{Queue: config.StockCheckQueue, Key: config.StockCheckBindingKey},
			{Queue: config.StockDeductQueue, Key: config.StockDeductBindingKey},
		},
	}
}

// Declare creates the exchange, then the queues, then the bindings. All objects
// are durable and declared with fixed arguments.
func (t Topology) Declare(_ context.Context, ch Channel) error {
	kind := t.ExchangeKind
	if kind == "" {
		kind = "topic"
	}
	if err := ch.ExchangeDeclare(
		t.Exchange, // name
		kind,       // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}

	declared := make(map[string]bool, len(t.Queues))
	for _, q := range t.Queues {
		if _, err := ch.QueueDeclare(
			q,     // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
		declared[q] = true
	}

	for _, b := range t.Bindings {
		if !declared[b.Queue] {
			return fmt.Errorf("bind %s: queue is not part of the topology", b.Queue)
		}
		if err := ch.QueueBind(b.Queue, b.Key, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s with %q: %w", b.Queue, t.Exchange, b.Key, err)
		}
	}
	return nil
}
