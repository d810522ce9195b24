package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) CheckStock(ctx context.Context, code string, qty int) (StockCheckResult, error) {
	args := m.Called(ctx, code, qty)
	return args.Get(0).(StockCheckResult), args.Error(1)
}

func (m *mockService) DeductStock(ctx context.Context, code string, qty int) (*StockItem, error) {
	args := m.Called(ctx, code, qty)
	item, _ := args.Get(0).(*StockItem)
	return item, args.Error(1)
}

func (m *mockService) UpdateStock(ctx context.Context, code string, qty int) (*StockItem, error) {
	args := m.Called(ctx, code, qty)
	item, _ := args.Get(0).(*StockItem)
	return item, args.Error(1)
}

func (m *mockService) CreateItem(ctx context.Context, in CreateItemInput) (*StockItem, error) {
	args := m.Called(ctx, in)
	item, _ := args.Get(0).(*StockItem)
	return item, args.Error(1)
}

func (m *mockService) GetItem(ctx context.Context, code string) (*StockItem, error) {
	args := m.Called(ctx, code)
	item, _ := args.Get(0).(*StockItem)
	return item, args.Error(1)
}

func newTestHandler(t *testing.T) (*RPCHandler, *MemoryLedger, *recordingPublisher) {
	t.Helper()
	svc, ledger, events := newTestService(t)
	return NewRPCHandler(svc, zaptest.NewLogger(t)), ledger, events
}

func TestStockCheckBatchReportsEachItem(t *testing.T) {
	h, ledger, _ := newTestHandler(t)
	seed(t, ledger, "A", "Widget", 10)
	seed(t, ledger, "B", "Gadget", 10)

	resp, ok := h.HandleStockCheck(context.Background(),
		[]byte(`{"items":[{"productCode":"A","quantity":5},{"productCode":"B","quantity":20}]}`)).(StockCheckResponse)
	require.True(t, ok)

	assert.False(t, resp.Success)
	require.Len(t, resp.Details, 2)
	assert.Equal(t, "A", resp.Details[0].ProductCode)
	assert.True(t, resp.Details[0].Available)
	assert.Equal(t, "B", resp.Details[1].ProductCode)
	assert.False(t, resp.Details[1].Available)
	assert.Equal(t, map[string]int{"A": 10, "B": 10}, resp.AvailableStock)
	assert.Contains(t, resp.Message, "Some items are not available: ")
	assert.Contains(t, resp.Message, "Insufficient stock. Requested: 20, Available: 10")
}

func TestStockCheckAllAvailable(t *testing.T) {
	h, ledger, _ := newTestHandler(t)
	seed(t, ledger, "A", "Widget", 10)

	resp := h.HandleStockCheck(context.Background(), []byte(`{"items":[{"productCode":"A","quantity":10}]}`)).(StockCheckResponse)

	assert.True(t, resp.Success)
	assert.Equal(t, "All items available", resp.Message)
}

func TestStockCheckMalformedRequests(t *testing.T) {
	h, _, _ := newTestHandler(t)

	for name, body := range map[string]string{
		"empty body":      ``,
		"invalid json":    `{"items":`,
		"no items":        `{"items":[]}`,
		"missing code":    `{"items":[{"quantity":1}]}`,
		"zero quantity":   `{"items":[{"productCode":"A","quantity":0}]}`,
		"wrong item type": `{"items":"A"}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := h.HandleStockCheck(context.Background(), []byte(body)).(StockCheckResponse)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Message, "malformed request")
			assert.NotNil(t, resp.AvailableStock)
			assert.Empty(t, resp.AvailableStock)
			assert.NotNil(t, resp.Details)
			assert.Empty(t, resp.Details)
		})
	}
}

func TestStockCheckLedgerFailureShortCircuits(t *testing.T) {
	svc := &mockService{}
	svc.On("CheckStock", mock.Anything, "A", 1).Return(StockCheckResult{}, errors.New("ledger offline"))
	h := NewRPCHandler(svc, zaptest.NewLogger(t))

	resp := h.HandleStockCheck(context.Background(), []byte(`{"items":[{"productCode":"A","quantity":1}]}`)).(StockCheckResponse)

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "ledger offline")
	assert.Empty(t, resp.Details)
}

func TestStockDeductIsAllOrNothingAtCheckStage(t *testing.T) {
	h, ledger, events := newTestHandler(t)
	seed(t, ledger, "A", "Widget", 10)
	seed(t, ledger, "B", "Gadget", 10)

	resp := h.HandleStockDeduct(context.Background(),
		[]byte(`{"items":[{"productCode":"A","quantity":5},{"productCode":"B","quantity":20}]}`)).(StockDeductResponse)

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "Insufficient stock for one or more items: ")
	assert.Contains(t, resp.Message, "B: Insufficient stock. Requested: 20, Available: 10")
	assert.Empty(t, resp.Deductions)
	assert.Equal(t, 10, quantityOf(t, ledger, "A"))
	assert.Equal(t, 10, quantityOf(t, ledger, "B"))
	assert.Empty(t, events.published())

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"message":"`+resp.Message+`"}`, string(raw))
}

func TestStockDeductSuccess(t *testing.T) {
	h, ledger, events := newTestHandler(t)
	seed(t, ledger, "A", "Widget", 10)
	seed(t, ledger, "B", "Gadget", 10)

	resp := h.HandleStockDeduct(context.Background(),
		[]byte(`{"items":[{"productCode":"A","quantity":5},{"productCode":"B","quantity":10}]}`)).(StockDeductResponse)

	assert.True(t, resp.Success)
	assert.Equal(t, "Stock deducted successfully", resp.Message)
	assert.Equal(t, []Deduction{{ProductCode: "A", Quantity: 5}, {ProductCode: "B", Quantity: 10}}, resp.Deductions)
	assert.Equal(t, 5, quantityOf(t, ledger, "A"))
	assert.Equal(t, 0, quantityOf(t, ledger, "B"))
	assert.Len(t, events.published(), 2)
}

func TestStockDeductSumsRepeatedCodes(t *testing.T) {
	h, ledger, events := newTestHandler(t)
	seed(t, ledger, "A", "Widget", 10)

	resp := h.HandleStockDeduct(context.Background(),
		[]byte(`{"items":[{"productCode":"A","quantity":6},{"productCode":"A","quantity":6}]}`)).(StockDeductResponse)

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "Insufficient stock for one or more items: A: Insufficient stock. Requested: 12, Available: 10")
	assert.Empty(t, resp.Deductions)
	assert.Equal(t, 10, quantityOf(t, ledger, "A"))
	assert.Empty(t, events.published())

	resp = h.HandleStockDeduct(context.Background(),
		[]byte(`{"items":[{"productCode":"A","quantity":4},{"productCode":"A","quantity":3}]}`)).(StockDeductResponse)

	assert.True(t, resp.Success)
	assert.Equal(t, []Deduction{{ProductCode: "A", Quantity: 7}}, resp.Deductions)
	assert.Equal(t, 3, quantityOf(t, ledger, "A"))
}

func TestStockDeductReportsLostRace(t *testing.T) {
	svc := &mockService{}
	svc.On("CheckStock", mock.Anything, "A", 2).Return(StockCheckResult{ProductCode: "A", Available: true, CurrentStock: 5}, nil)
	svc.On("CheckStock", mock.Anything, "B", 3).Return(StockCheckResult{ProductCode: "B", Available: true, CurrentStock: 3}, nil)
	svc.On("DeductStock", mock.Anything, "A", 2).Return(&StockItem{ProductCode: "A", Quantity: 3}, nil)
	svc.On("DeductStock", mock.Anything, "B", 3).Return(nil, &InsufficientStockError{ProductCode: "B", Name: "Gadget", Requested: 3, Available: 1})
	h := NewRPCHandler(svc, zaptest.NewLogger(t))

	resp := h.HandleStockDeduct(context.Background(),
		[]byte(`{"items":[{"productCode":"A","quantity":2},{"productCode":"B","quantity":3}]}`)).(StockDeductResponse)

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "B: insufficient stock for B (Gadget): requested 3, available 1")
	assert.Equal(t, []Deduction{{ProductCode: "A", Quantity: 2}}, resp.Deductions)
	svc.AssertExpectations(t)
}

func TestStockDeductCountsUndeliveredEventsAsDeducted(t *testing.T) {
	h, ledger, events := newTestHandler(t)
	seed(t, ledger, "A", "Widget", 10)
	events.err = errors.New("rabbitmq: publish failed")

	resp := h.HandleStockDeduct(context.Background(), []byte(`{"items":[{"productCode":"A","quantity":4}]}`)).(StockDeductResponse)

	assert.True(t, resp.Success)
	assert.Equal(t, "Stock deducted successfully (event delivery not confirmed for A)", resp.Message)
	assert.Equal(t, []Deduction{{ProductCode: "A", Quantity: 4}}, resp.Deductions)
	assert.Equal(t, 6, quantityOf(t, ledger, "A"))
}

func TestStockDeductMalformed(t *testing.T) {
	h, _, _ := newTestHandler(t)

	resp := h.HandleStockDeduct(context.Background(), []byte(`not json`)).(StockDeductResponse)

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "malformed request")
	assert.Nil(t, resp.Deductions)
}
