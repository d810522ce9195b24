package inventory

import (
	"strings"
	"time"

	"inventorybus/internal/config"

	"github.com/google/uuid"
)

// EventType classifies a committed quantity change.
type EventType string

const (
	EventAdded   EventType = "ADDED"
	EventReduced EventType = "REDUCED"
	EventUpdated EventType = "UPDATED"
)

// RoutingKey returns the topic key the event is published under,
// e.g. inventory.stock.reduced.
func (t EventType) RoutingKey() string {
	return config.StockEventKeyPrefix + strings.ToLower(string(t))
}

// StockEvent is emitted once per committed quantity change. It is built by
// NewStockEvent and never modified afterwards.
type StockEvent struct {
	EventID          string    `json:"eventId"`
	EventType        EventType `json:"eventType"`
	ProductCode      string    `json:"productCode"`
	PreviousQuantity int       `json:"previousQuantity"`
	NewQuantity      int       `json:"newQuantity"`
	Timestamp        time.Time `json:"timestamp"`
	ProductName      string    `json:"productName,omitempty"`
}

// NewStockEvent describes the change of item from previous to item.Quantity.
func NewStockEvent(t EventType, item *StockItem, previous int) StockEvent {
	return StockEvent{
		EventID:          uuid.NewString(),
		EventType:        t,
		ProductCode:      item.ProductCode,
		PreviousQuantity: previous,
		NewQuantity:      item.Quantity,
		Timestamp:        time.Now().UTC(),
		ProductName:      item.Name,
	}
}

// classifyUpdate derives the event type of an absolute quantity update.
// Only a strict increase counts as ADDED; an unchanged quantity is REDUCED.
func classifyUpdate(previous, next int) EventType {
	if next > previous {
		return EventAdded
	}
	return EventReduced
}
