package inventory

import (
	"fmt"
	"strings"
	"time"
)

// StockItem is one ledger record. Quantity never drops below zero.
type StockItem struct {
	ProductCode string    `json:"productCode"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Quantity    int       `json:"quantity"`
	Price       float64   `json:"price"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CreateItemInput carries the fields of a new item. An empty ProductCode asks
// the service to generate one.
type CreateItemInput struct {
	ProductCode string  `json:"productCode"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

// Validate checks the input before anything touches the ledger.
func (in CreateItemInput) Validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	case in.Quantity < 0:
		return fmt.Errorf("%w: quantity must not be negative, got %d", ErrInvalidInput, in.Quantity)
	case in.Price < 0:
		return fmt.Errorf("%w: price must not be negative, got %v", ErrInvalidInput, in.Price)
	}
	return nil
}
