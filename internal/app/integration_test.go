package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"inventorybus/internal/config"
	"inventorybus/internal/inventory"
	"inventorybus/internal/platform/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRabbitMQ(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate rabbitmq: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
}

func TestStockDeductRoundTrip(t *testing.T) {
	if os.Getenv("INVENTORY_INTEGRATION") != "1" {
		t.Skip("set INVENTORY_INTEGRATION=1 to run against a RabbitMQ container")
	}

	cfg := testConfig()
	cfg.RabbitMQURL = startRabbitMQ(t)
	cfg.ConnectAttempts = 10
	cfg.ConnectDelay = 500 * time.Millisecond

	container, err := newContainer(context.Background(), cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	app := &Application{ctx: ctx, cancel: cancel}
	app.wire(container)
	t.Cleanup(app.Shutdown)

	_, err = container.Ledger().Create(context.Background(), inventory.StockItem{ProductCode: "A", Name: "Widget", Quantity: 5})
	require.NoError(t, err)

	go func() { _ = app.Run() }()
	require.Eventually(t, func() bool {
		return container.Broker().State() == rabbitmq.StateConnected
	}, 30*time.Second, 100*time.Millisecond)

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	require.NoError(t, err)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)

	events, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(events.Name, inventory.EventReduced.RoutingKey(), config.InventoryExchange, false, nil))
	eventDeliveries, err := ch.Consume(events.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	replyQueue, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	replies, err := ch.Consume(replyQueue.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	err = ch.PublishWithContext(context.Background(), config.InventoryExchange, config.StockDeductBindingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: "order-42",
		ReplyTo:       replyQueue.Name,
		Body:          []byte(`{"items":[{"productCode":"A","quantity":2}]}`),
	})
	require.NoError(t, err)

	select {
	case reply := <-replies:
		assert.Equal(t, "order-42", reply.CorrelationId)
		var resp inventory.StockDeductResponse
		require.NoError(t, json.Unmarshal(reply.Body, &resp))
		assert.True(t, resp.Success, resp.Message)
		assert.Equal(t, []inventory.Deduction{{ProductCode: "A", Quantity: 2}}, resp.Deductions)
	case <-time.After(10 * time.Second):
		t.Fatal("no reply received")
	}

	select {
	case d := <-eventDeliveries:
		var event inventory.StockEvent
		require.NoError(t, json.Unmarshal(d.Body, &event))
		assert.Equal(t, inventory.EventReduced, event.EventType)
		assert.Equal(t, 5, event.PreviousQuantity)
		assert.Equal(t, 3, event.NewQuantity)
		assert.Equal(t, event.EventID, d.MessageId)
	case <-time.After(10 * time.Second):
		t.Fatal("no stock event received")
	}
}
