package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inventorybus/internal/inventory"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS stock_items (
		product_code TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		quantity     INTEGER NOT NULL CHECK (quantity >= 0),
		price        DOUBLE PRECISION NOT NULL CHECK (price >= 0),
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

const returning = `RETURNING product_code, name, description, quantity, price, created_at, updated_at`

// Querier is the part of *pgxpool.Pool the ledger uses.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Open creates a connection pool and waits until the database answers.
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

// Ledger stores stock items in the stock_items table.
type Ledger struct {
	db Querier
}

var _ inventory.Ledger = (*Ledger)(nil)

func NewLedger(db Querier) *Ledger {
	return &Ledger{db: db}
}

// Migrate creates the stock_items table if it does not exist yet.
func (l *Ledger) Migrate(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create stock_items table: %w", err)
	}
	return nil
}

func (l *Ledger) FindByCode(ctx context.Context, code string) (*inventory.StockItem, error) {
	row := l.db.QueryRow(ctx, `
		SELECT product_code, name, description, quantity, price, created_at, updated_at
		FROM stock_items
		WHERE product_code = $1
	`, code)
	return scanOptional(row)
}

// Create inserts item. An existing code yields inventory.ErrConflict.
func (l *Ledger) Create(ctx context.Context, item inventory.StockItem) (*inventory.StockItem, error) {
	row := l.db.QueryRow(ctx, `
		INSERT INTO stock_items (product_code, name, description, quantity, price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_code) DO NOTHING
	`+returning, item.ProductCode, item.Name, item.Description, item.Quantity, item.Price)

	created, err := scanOptional(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert stock item: %w", err)
	}
	if created == nil {
		return nil, fmt.Errorf("%w: %s", inventory.ErrConflict, item.ProductCode)
	}
	return created, nil
}

// SetQuantity locks the row in a subselect so the quantity it returns as
// previous is the one this statement overwrote.
func (l *Ledger) SetQuantity(ctx context.Context, code string, qty int) (*inventory.StockItem, int, error) {
	row := l.db.QueryRow(ctx, `
		UPDATE stock_items AS s
		SET quantity = $2,
		    updated_at = NOW()
		FROM (
			SELECT product_code, quantity
			FROM stock_items
			WHERE product_code = $1
			FOR UPDATE
		) AS prev
		WHERE s.product_code = prev.product_code
		RETURNING s.product_code, s.name, s.description, s.quantity, s.price, s.created_at, s.updated_at, prev.quantity
	`, code, qty)

	var previous int
	item, err := scanOptional(row, &previous)
	if err != nil || item == nil {
		return nil, 0, err
	}
	return item, previous, nil
}

// DeductQuantity decrements in a single statement guarded by quantity >= $2, so
// no interleaving of concurrent deductions can oversell.
func (l *Ledger) DeductQuantity(ctx context.Context, code string, qty int) (*inventory.StockItem, error) {
	row := l.db.QueryRow(ctx, `
		UPDATE stock_items
		SET quantity = quantity - $2,
		    updated_at = NOW()
		WHERE product_code = $1 AND quantity >= $2
	`+returning, code, qty)
	return scanOptional(row)
}

// scanOptional reads one stock item, followed by any extra returned columns.
func scanOptional(row pgx.Row, extra ...any) (*inventory.StockItem, error) {
	var item inventory.StockItem
	dest := append([]any{
		&item.ProductCode,
		&item.Name,
		&item.Description,
		&item.Quantity,
		&item.Price,
		&item.CreatedAt,
		&item.UpdatedAt,
	}, extra...)
	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}
