package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PaymentAPI is the payment state machine as seen by HTTP callers
type PaymentAPI interface {
	Initiate(ctx context.Context, caller service.Caller, req *service.InitiatePaymentRequest) (*service.InitiatePaymentResponse, error)
	Confirm(ctx context.Context, caller service.Caller, req *service.ConfirmPaymentRequest) (*service.ConfirmPaymentResponse, error)
	Fail(ctx context.Context, caller service.Caller, paymentID int64, reason string) error
	GetPayment(ctx context.Context, caller service.Caller, paymentID int64) (*service.PaymentView, error)
}

// OrderAPI is the order lifecycle as seen by HTTP callers
type OrderAPI interface {
	UpdateStatus(ctx context.Context, caller service.Caller, orderID int64, req *service.UpdateOrderStatusRequest) (*models.Order, error)
	Cancel(ctx context.Context, caller service.Caller, orderID int64) (*models.Order, error)
	GetOrder(ctx context.Context, caller service.Caller, orderID int64) (*service.OrderDetails, error)
	ListOrders(ctx context.Context, caller service.Caller) ([]models.Order, error)
}

// CartAPI is the cart aggregate as seen by HTTP callers
type CartAPI interface {
	GetCart(ctx context.Context, caller service.Caller) (*service.CartView, error)
	AddItem(ctx context.Context, caller service.Caller, req *service.AddCartItemRequest) (*models.CartLine, error)
	UpdateLine(ctx context.Context, caller service.Caller, lineID int64, req *service.UpdateCartLineRequest) (*models.CartLine, error)
	RemoveLine(ctx context.Context, caller service.Caller, lineID int64) error
	Quote(ctx context.Context, caller service.Caller, couponCode string) (*service.PriceBreakdown, error)
}

// CouponAPI issues coupons
type CouponAPI interface {
	CreateCoupon(ctx context.Context, caller service.Caller, req *service.CreateCouponRequest) (*models.Coupon, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	payments PaymentAPI
	orders   OrderAPI
	carts    CartAPI
	coupons  CouponAPI
	checks   map[string]Pinger
}

// NewHandler creates a new HTTP handler. checks are pinged by the readiness probe.
func NewHandler(payments PaymentAPI, orders OrderAPI, carts CartAPI, coupons CouponAPI, checks map[string]Pinger) *Handler {
	return &Handler{
		payments: payments,
		orders:   orders,
		carts:    carts,
		coupons:  coupons,
		checks:   checks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(identityMiddleware())
	{
		v1.POST("/payment/initiate", h.initiatePayment)
		v1.POST("/payment/confirm", h.confirmPayment)
		v1.POST("/payment/:id/fail", h.failPayment)
		v1.GET("/payment/:id", h.getPayment)

		v1.POST("/order/:id/cancel", h.cancelOrder)
		v1.PUT("/order/:id/status", h.updateOrderStatus)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PATCH("/cart/items/:lineId", h.updateCartLine)
		v1.DELETE("/cart/items/:lineId", h.removeCartLine)
		v1.POST("/cart/quote", h.quoteCart)

		v1.POST("/coupons", h.createCoupon)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency the service needs to take traffic
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorBody(apperr.KindBadRequest, "Invalid "+param))
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
