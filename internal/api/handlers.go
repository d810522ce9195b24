package api

import (
	"errors"
	"net/http"
	"strconv"

	"inventorybus/internal/inventory"
	"inventorybus/internal/platform/observability"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the inventory service over HTTP.
type Handler struct {
	service inventory.Service
	logger  observability.Logger
}

func NewHandler(service inventory.Service, logger observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type quantityRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

// CreateItem handles POST /api/inventory.
func (h *Handler) CreateItem(c *gin.Context) {
	var in inventory.CreateItemInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	item, err := h.service.CreateItem(c.Request.Context(), in)
	h.respond(c, http.StatusCreated, item, err)
}

// GetItem handles GET /api/inventory/:code.
func (h *Handler) GetItem(c *gin.Context) {
	item, err := h.service.GetItem(c.Request.Context(), c.Param("code"))
	h.respond(c, http.StatusOK, item, err)
}

// CheckAvailability handles GET /api/inventory/:code/availability?quantity=N.
func (h *Handler) CheckAvailability(c *gin.Context) {
	qty, err := strconv.Atoi(c.DefaultQuery("quantity", "1"))
	if err != nil || qty <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be a positive integer"})
		return
	}
	result, err := h.service.CheckStock(c.Request.Context(), c.Param("code"), qty)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeductStock handles POST /api/inventory/:code/deduct.
func (h *Handler) DeductStock(c *gin.Context) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	item, err := h.service.DeductStock(c.Request.Context(), c.Param("code"), *req.Quantity)
	h.respond(c, http.StatusOK, item, err)
}

// UpdateStock handles PUT /api/inventory/:code/stock.
func (h *Handler) UpdateStock(c *gin.Context) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	item, err := h.service.UpdateStock(c.Request.Context(), c.Param("code"), *req.Quantity)
	h.respond(c, http.StatusOK, item, err)
}

func (h *Handler) respond(c *gin.Context, status int, item *inventory.StockItem, err error) {
	switch {
	case err == nil:
		c.JSON(status, item)
	case errors.Is(err, inventory.ErrEventNotDelivered) && item != nil:
		// The change is committed; only its event is in doubt.
		c.JSON(http.StatusAccepted, gin.H{"item": item, "warning": err.Error()})
	default:
		h.writeError(c, err)
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("❌ Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{"error": err.Error()}
	var insufficient *inventory.InsufficientStockError
	if errors.As(err, &insufficient) {
		body["productName"] = insufficient.Name
		body["requested"] = insufficient.Requested
		body["available"] = insufficient.Available
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrConflict), errors.Is(err, inventory.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, inventory.ErrInvalidInput), errors.Is(err, inventory.ErrMalformedRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
