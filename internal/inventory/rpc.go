package inventory

import (
	"encoding/json"
	"fmt"
)

// RequestItem is one (productCode, quantity) pair of an RPC batch.
type RequestItem struct {
	ProductCode string `json:"productCode"`
	Quantity    int    `json:"quantity"`
}

// StockRequest is the payload of both stock-check and stock-deduct requests.
type StockRequest struct {
	Items []RequestItem `json:"items"`
}

// StockCheckResult is the outcome of checking one item.
type StockCheckResult struct {
	ProductCode  string `json:"productCode"`
	Available    bool   `json:"available"`
	CurrentStock int    `json:"currentStock"`
	Message      string `json:"message"`
}

// StockCheckResponse is the reply to a stock-check request.
type StockCheckResponse struct {
	Success        bool               `json:"success"`
	Message        string             `json:"message"`
	AvailableStock map[string]int     `json:"availableStock"`
	Details        []StockCheckResult `json:"details"`
}

// Deduction records a quantity actually taken from the ledger.
type Deduction struct {
	ProductCode string `json:"productCode"`
	Quantity    int    `json:"quantity"`
}

// StockDeductResponse is the reply to a stock-deduct request.
type StockDeductResponse struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	Deductions []Deduction `json:"deductions,omitempty"`
}

// ParseStockRequest decodes and validates an RPC request body.
func ParseStockRequest(body []byte) (StockRequest, error) {
	var req StockRequest
	if len(body) == 0 {
		return req, fmt.Errorf("%w: empty body", ErrMalformedRequest)
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	if len(req.Items) == 0 {
		return req, fmt.Errorf("%w: items must not be empty", ErrMalformedRequest)
	}
	for i, item := range req.Items {
		if item.ProductCode == "" {
			return req, fmt.Errorf("%w: item %d has no productCode", ErrMalformedRequest, i)
		}
		if item.Quantity <= 0 {
			return req, fmt.Errorf("%w: item %d (%s) has non-positive quantity %d", ErrMalformedRequest, i, item.ProductCode, item.Quantity)
		}
	}
	req.Items = mergeItems(req.Items)
	return req, nil
}

// mergeItems sums the quantities of repeated product codes, keeping the order
// of first appearance, so a batch is checked against its combined demand.
func mergeItems(items []RequestItem) []RequestItem {
	merged := make([]RequestItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductCode]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductCode] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

func failedCheck(message string) StockCheckResponse {
	return StockCheckResponse{
		Message:        message,
		AvailableStock: map[string]int{},
		Details:        []StockCheckResult{},
	}
}
