package api

import (
	"net/http"

	"checkout-service/internal/service"

	"github.com/gin-gonic/gin"
)

// cancelOrder handles customer cancellation
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.Cancel(c.Request.Context(), callerFrom(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id": order.ID,
		"status":   order.Status,
	})
}

// updateOrderStatus handles seller and admin fulfillment updates
func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req service.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), callerFrom(c), orderID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":        order.ID,
		"status":          order.Status,
		"tracking_number": order.TrackingNumber,
	})
}

// listOrders handles listing the caller's orders
func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
	})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), callerFrom(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}
