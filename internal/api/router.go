package api

import (
	"net/http"
	"time"

	"inventorybus/internal/config"
	"inventorybus/internal/platform/observability"
	"inventorybus/internal/platform/rabbitmq"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// BrokerStatus reports the broker connection state for the health endpoint.
type BrokerStatus interface {
	State() rabbitmq.State
}

// NewRouter wires the HTTP routes.
func NewRouter(h *Handler, broker BrokerStatus, logger observability.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(config.ServiceName))
	r.Use(requestLogger(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"broker": broker.State().String(),
		})
	})

	inv := r.Group("/api/inventory")
	inv.POST("", h.CreateItem)
	inv.GET("/:code", h.GetItem)
	inv.GET("/:code/availability", h.CheckAvailability)
	inv.POST("/:code/deduct", h.DeductStock)
	inv.PUT("/:code/stock", h.UpdateStock)

	return r
}

func requestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
