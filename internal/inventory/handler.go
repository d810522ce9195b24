package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"inventorybus/internal/platform/observability"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RPCHandler answers stock-check and stock-deduct requests. Every outcome,
// including malformed input, is encoded into the reply payload.
type RPCHandler struct {
	service Service
	logger  observability.Logger
}

// NewRPCHandler creates a new RPCHandler instance with explicit dependencies
func NewRPCHandler(service Service, logger observability.Logger) *RPCHandler {
	return &RPCHandler{service: service, logger: logger}
}

// HandleStockCheck replies with the availability of every requested item.
func (h *RPCHandler) HandleStockCheck(ctx context.Context, body []byte) any {
	req, err := ParseStockRequest(body)
	if err != nil {
		h.logger.Warn("⚠️ Rejecting malformed stock-check request", zap.Error(err))
		return failedCheck(err.Error())
	}

	resp, err := h.CheckBatch(ctx, req.Items)
	if err != nil {
		h.logger.Error("❌ Stock check failed", zap.Error(err), zap.Int("items", len(req.Items)))
		return failedCheck(fmt.Sprintf("Stock check failed: %v", err))
	}

	h.logger.Info("🔍 Stock check answered",
		zap.Int("items", len(req.Items)),
		zap.Bool("success", resp.Success),
	)
	return resp
}

// CheckBatch checks all items concurrently and aggregates the results in
// request order. Only a ledger failure aborts the batch.
func (h *RPCHandler) CheckBatch(ctx context.Context, items []RequestItem) (StockCheckResponse, error) {
	results := make([]StockCheckResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			r, err := h.service.CheckStock(gctx, item.ProductCode, item.Quantity)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StockCheckResponse{}, err
	}

	resp := StockCheckResponse{
		Success:        true,
		AvailableStock: make(map[string]int, len(results)),
		Details:        results,
	}
	for _, r := range results {
		resp.AvailableStock[r.ProductCode] = r.CurrentStock
		if !r.Available {
			resp.Success = false
		}
	}
	if resp.Success {
		resp.Message = "All items available"
	} else {
		resp.Message = "Some items are not available: " + strings.Join(unavailable(results), "; ")
	}
	return resp, nil
}

// HandleStockDeduct checks the whole batch first and deducts nothing if any item
// is short. Otherwise every item is deducted concurrently; a deduction that loses
// a race is reported, and the ones already taken are listed, not undone.
func (h *RPCHandler) HandleStockDeduct(ctx context.Context, body []byte) any {
	req, err := ParseStockRequest(body)
	if err != nil {
		h.logger.Warn("⚠️ Rejecting malformed stock-deduct request", zap.Error(err))
		return StockDeductResponse{Message: err.Error()}
	}

	check, err := h.CheckBatch(ctx, req.Items)
	if err != nil {
		h.logger.Error("❌ Stock check before deduction failed", zap.Error(err))
		return StockDeductResponse{Message: fmt.Sprintf("Stock deduction failed: %v", err)}
	}
	if !check.Success {
		h.logger.Info("🚫 Stock deduction rejected", zap.Strings("unavailable", unavailable(check.Details)))
		return StockDeductResponse{
			Message: "Insufficient stock for one or more items: " + strings.Join(unavailable(check.Details), "; "),
		}
	}

	errs := make([]error, len(req.Items))
	var g errgroup.Group
	for i, item := range req.Items {
		g.Go(func() error {
			_, errs[i] = h.service.DeductStock(ctx, item.ProductCode, item.Quantity)
			return nil
		})
	}
	_ = g.Wait()

	var (
		deductions  []Deduction
		failures    []string
		undelivered []string
	)
	for i, item := range req.Items {
		err := errs[i]
		switch {
		case err == nil:
		case errors.Is(err, ErrEventNotDelivered):
			undelivered = append(undelivered, item.ProductCode)
		default:
			failures = append(failures, fmt.Sprintf("%s: %v", item.ProductCode, err))
			continue
		}
		deductions = append(deductions, Deduction{ProductCode: item.ProductCode, Quantity: item.Quantity})
	}

	resp := StockDeductResponse{Success: len(failures) == 0, Deductions: deductions}
	if resp.Success {
		resp.Message = "Stock deducted successfully"
	} else {
		resp.Message = "Stock deduction incomplete: " + strings.Join(failures, "; ")
	}
	if len(undelivered) > 0 {
		resp.Message += fmt.Sprintf(" (event delivery not confirmed for %s)", strings.Join(undelivered, ", "))
	}

	h.logger.Info("📉 Stock deduction processed",
		zap.Bool("success", resp.Success),
		zap.Int("deducted", len(deductions)),
		zap.Int("failed", len(failures)),
		zap.Int("events_unconfirmed", len(undelivered)),
	)
	return resp
}

func unavailable(results []StockCheckResult) []string {
	var out []string
	for _, r := range results {
		if !r.Available {
			out = append(out, fmt.Sprintf("%s: %s", r.ProductCode, r.Message))
		}
	}
	return out
}
