package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Ledger is the authoritative store of stock items. Lookups of a missing code
// return a nil item and a nil error; errors are reserved for storage failures.
type Ledger interface {
	FindByCode(ctx context.Context, code string) (*StockItem, error)
	// Create stores item and fails with ErrConflict if the code is taken.
	Create(ctx context.Context, item StockItem) (*StockItem, error)
	// SetQuantity overwrites the quantity and reports the quantity it replaced,
	// read in the same atomic step. It returns nil if the code is unknown.
	SetQuantity(ctx context.Context, code string, qty int) (item *StockItem, previous int, err error)
	// DeductQuantity subtracts qty only if at least qty is stored, as one atomic
	// step. It returns nil if the code is unknown or the stock is short.
	DeductQuantity(ctx context.Context, code string, qty int) (*StockItem, error)
}

// MemoryLedger keeps items in a map guarded by a mutex.
type MemoryLedger struct {
	mu    sync.RWMutex
	items map[string]StockItem
	now   func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		items: make(map[string]StockItem),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryLedger) FindByCode(_ context.Context, code string) (*StockItem, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	item, ok := l.items[code]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (l *MemoryLedger) Create(_ context.Context, item StockItem) (*StockItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.items[item.ProductCode]; ok {
		return nil, fmt.Errorf("%w: %s", ErrConflict, item.ProductCode)
	}
	now := l.now()
	item.CreatedAt, item.UpdatedAt = now, now
	l.items[item.ProductCode] = item
	return &item, nil
}

func (l *MemoryLedger) SetQuantity(_ context.Context, code string, qty int) (*StockItem, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.items[code]
	if !ok {
		return nil, 0, nil
	}
	previous := item.Quantity
	item.Quantity = qty
	item.UpdatedAt = l.now()
	l.items[code] = item
	return &item, previous, nil
}

func (l *MemoryLedger) DeductQuantity(_ context.Context, code string, qty int) (*StockItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.items[code]
	if !ok || item.Quantity < qty {
		return nil, nil
	}
	item.Quantity -= qty
	item.UpdatedAt = l.now()
	l.items[code] = item
	return &item, nil
}
