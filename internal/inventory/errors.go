package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("item not found")
	ErrConflict                = errors.New("product code already exists")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidInput            = errors.New("invalid input")
	ErrMalformedRequest        = errors.New("malformed request")
	ErrCodeGenerationExhausted = errors.New("could not generate a unique product code")

	// ErrEventNotDelivered marks a partial success: the ledger change is
	// committed but its stock event was not confirmed by the broker.
	ErrEventNotDelivered = errors.New("stock event not delivered")
)

// InsufficientStockError reports a deduction larger than the stored quantity.
// It matches ErrInsufficientStock with errors.Is.
type InsufficientStockError struct {
	ProductCode string
	Name        string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (%s): requested %d, available %d",
		e.ProductCode, e.Name, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
