package inventory

import (
	"context"
	"errors"
	"fmt"

	"inventorybus/internal/platform/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultCodeAttempts = 10

// Service defines the stock operations shared by the RPC responders and the
// HTTP API.
type Service interface {
	CheckStock(ctx context.Context, code string, qty int) (StockCheckResult, error)
	DeductStock(ctx context.Context, code string, qty int) (*StockItem, error)
	UpdateStock(ctx context.Context, code string, qty int) (*StockItem, error)
	CreateItem(ctx context.Context, in CreateItemInput) (*StockItem, error)
	GetItem(ctx context.Context, code string) (*StockItem, error)
}

// DefaultService keeps the ledger and the event stream consistent: every
// committed quantity change is followed by exactly one published event.
type DefaultService struct {
	ledger       Ledger
	events       EventPublisher
	logger       observability.Logger
	tracer       observability.Tracer
	newCode      CodeGenerator
	codeAttempts int
}

// Option customises a DefaultService.
type Option func(*DefaultService)

// WithCodeGenerator replaces the product code generator.
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(s *DefaultService) { s.newCode = gen }
}

// WithCodeAttempts bounds how many generated codes are tried before giving up.
func WithCodeAttempts(n int) Option {
	return func(s *DefaultService) {
		if n > 0 {
			s.codeAttempts = n
		}
	}
}

// NewService creates a new inventory service instance with explicit dependencies
func NewService(ledger Ledger, events EventPublisher, logger observability.Logger, tracer observability.Tracer, opts ...Option) *DefaultService {
	s := &DefaultService{
		ledger:       ledger,
		events:       events,
		logger:       logger,
		tracer:       tracer,
		newCode:      RandomProductCode,
		codeAttempts: defaultCodeAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckStock reports whether qty units of code are available. A missing item is
// reported as unavailable, not as an error.
func (s *DefaultService) CheckStock(ctx context.Context, code string, qty int) (StockCheckResult, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.check_stock", trace.WithAttributes(
		attribute.String("inventory.product_code", code),
		attribute.Int("inventory.requested_quantity", qty),
	))
	defer span.End()

	item, err := s.ledger.FindByCode(ctx, code)
	if err != nil {
		return StockCheckResult{}, s.fail(span, fmt.Errorf("find %s: %w", code, err))
	}

	result := StockCheckResult{ProductCode: code}
	switch {
	case item == nil:
		result.Message = "Item not found in inventory"
	case item.Quantity >= qty:
		result.Available = true
		result.CurrentStock = item.Quantity
		result.Message = "Stock available"
	default:
		result.CurrentStock = item.Quantity
		result.Message = fmt.Sprintf("Insufficient stock. Requested: %d, Available: %d", qty, item.Quantity)
	}

	span.SetAttributes(
		attribute.Bool("inventory.available", result.Available),
		attribute.Int("inventory.current_stock", result.CurrentStock),
	)
	return result, nil
}

// DeductStock removes qty units of code. The decrement is a single conditional
// ledger update, so concurrent deductions cannot drive the quantity negative.
func (s *DefaultService) DeductStock(ctx context.Context, code string, qty int) (*StockItem, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.deduct_stock", trace.WithAttributes(
		attribute.String("inventory.product_code", code),
		attribute.Int("inventory.requested_quantity", qty),
	))
	defer span.End()

	if qty <= 0 {
		return nil, s.fail(span, fmt.Errorf("%w: deduction quantity must be positive, got %d", ErrInvalidInput, qty))
	}

	item, err := s.ledger.DeductQuantity(ctx, code, qty)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("deduct %s: %w", code, err))
	}
	if item == nil {
		return nil, s.fail(span, s.classifyRejectedDeduction(ctx, code, qty))
	}

	s.logger.Info("📉 Stock deducted",
		zap.String("product_code", code),
		zap.Int("quantity", qty),
		zap.Int("remaining", item.Quantity),
	)
	span.SetAttributes(attribute.Int("inventory.new_quantity", item.Quantity))

	if err := s.emit(ctx, NewStockEvent(EventReduced, item, item.Quantity+qty)); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return item, err
	}
	span.SetStatus(codes.Ok, "stock deducted")
	return item, nil
}

// classifyRejectedDeduction re-reads the item to explain why the conditional
// decrement matched nothing.
func (s *DefaultService) classifyRejectedDeduction(ctx context.Context, code string, qty int) error {
	current, err := s.ledger.FindByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("find %s: %w", code, err)
	}
	if current == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	return &InsufficientStockError{
		ProductCode: code,
		Name:        current.Name,
		Requested:   qty,
		Available:   current.Quantity,
	}
}

// UpdateStock overwrites the stored quantity and emits ADDED for an increase,
// REDUCED otherwise.
func (s *DefaultService) UpdateStock(ctx context.Context, code string, qty int) (*StockItem, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.update_stock", trace.WithAttributes(
		attribute.String("inventory.product_code", code),
		attribute.Int("inventory.new_quantity", qty),
	))
	defer span.End()

	if qty < 0 {
		return nil, s.fail(span, fmt.Errorf("%w: quantity must not be negative, got %d", ErrInvalidInput, qty))
	}

	item, previous, err := s.ledger.SetQuantity(ctx, code, qty)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("set quantity of %s: %w", code, err))
	}
	if item == nil {
		return nil, s.fail(span, fmt.Errorf("%w: %s", ErrNotFound, code))
	}

	eventType := classifyUpdate(previous, qty)
	s.logger.Info("📦 Stock updated",
		zap.String("product_code", code),
		zap.Int("previous_quantity", previous),
		zap.Int("new_quantity", qty),
		zap.String("event_type", string(eventType)),
	)

	if err := s.emit(ctx, NewStockEvent(eventType, item, previous)); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return item, err
	}
	span.SetStatus(codes.Ok, "stock updated")
	return item, nil
}

// CreateItem stores a new item, generating a product code when none is given.
func (s *DefaultService) CreateItem(ctx context.Context, in CreateItemInput) (*StockItem, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.create_item")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, s.fail(span, err)
	}

	var (
		created *StockItem
		err     error
	)
	if in.ProductCode != "" {
		created, err = s.ledger.Create(ctx, newStockItem(in.ProductCode, in))
	} else {
		created, err = s.createWithGeneratedCode(ctx, in)
	}
	if err != nil {
		return nil, s.fail(span, err)
	}

	span.SetAttributes(attribute.String("inventory.product_code", created.ProductCode))
	s.logger.Info("🆕 Stock item created",
		zap.String("product_code", created.ProductCode),
		zap.String("name", created.Name),
		zap.Int("quantity", created.Quantity),
	)

	if err := s.emit(ctx, NewStockEvent(EventAdded, created, 0)); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return created, err
	}
	span.SetStatus(codes.Ok, "item created")
	return created, nil
}

func (s *DefaultService) createWithGeneratedCode(ctx context.Context, in CreateItemInput) (*StockItem, error) {
	for attempt := 1; attempt <= s.codeAttempts; attempt++ {
		code := s.newCode()
		created, err := s.ledger.Create(ctx, newStockItem(code, in))
		if errors.Is(err, ErrConflict) {
			s.logger.Debug("Generated product code collided", zap.String("product_code", code), zap.Int("attempt", attempt))
			continue
		}
		return created, err
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrCodeGenerationExhausted, s.codeAttempts)
}

// GetItem returns the item or ErrNotFound.
func (s *DefaultService) GetItem(ctx context.Context, code string) (*StockItem, error) {
	item, err := s.ledger.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", code, err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	return item, nil
}

// emit publishes event after its ledger change has committed. A failure is
// logged and returned as ErrEventNotDelivered; the change is not rolled back.
func (s *DefaultService) emit(ctx context.Context, event StockEvent) error {
	if err := s.events.PublishStockEvent(ctx, event); err != nil {
		s.logger.Error("❌ Stock change committed but event not delivered",
			zap.Error(err),
			zap.String("event_id", event.EventID),
			zap.String("event_type", string(event.EventType)),
			zap.String("product_code", event.ProductCode),
		)
		return fmt.Errorf("%w: %s %s: %w", ErrEventNotDelivered, event.EventType, event.ProductCode, err)
	}
	return nil
}

func (s *DefaultService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func newStockItem(code string, in CreateItemInput) StockItem {
	return StockItem{
		ProductCode: code,
		Name:        in.Name,
		Description: in.Description,
		Quantity:    in.Quantity,
		Price:       in.Price,
	}
}
