package api

import (
	"net/http"

	"checkout-service/internal/service"

	"github.com/gin-gonic/gin"
)

// quoteRequest is the optional body of a cart quote
type quoteRequest struct {
	CouponCode string `json:"coupon_code"`
}

// getCart handles get cart, creating the active cart on first use
func (h *Handler) getCart(c *gin.Context) {
	cart, err := h.carts.GetCart(c.Request.Context(), callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// addCartItem handles adding a listing to the cart
func (h *Handler) addCartItem(c *gin.Context) {
	var req service.AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	line, err := h.carts.AddItem(c.Request.Context(), callerFrom(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, line)
}

// updateCartLine handles quantity and checkout selection changes
func (h *Handler) updateCartLine(c *gin.Context) {
	lineID, ok := parseID(c, "lineId")
	if !ok {
		return
	}

	var req service.UpdateCartLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	line, err := h.carts.UpdateLine(c.Request.Context(), callerFrom(c), lineID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

// removeCartLine handles removing a line from the cart
func (h *Handler) removeCartLine(c *gin.Context) {
	lineID, ok := parseID(c, "lineId")
	if !ok {
		return
	}

	if err := h.carts.RemoveLine(c.Request.Context(), callerFrom(c), lineID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// quoteCart prices the selected lines without starting a checkout
func (h *Handler) quoteCart(c *gin.Context) {
	var req quoteRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
	}

	quote, err := h.carts.Quote(c.Request.Context(), callerFrom(c), req.CouponCode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// createCoupon handles coupon creation by admins and sellers
func (h *Handler) createCoupon(c *gin.Context) {
	var req service.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	coupon, err := h.coupons.CreateCoupon(c.Request.Context(), callerFrom(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, coupon)
}
