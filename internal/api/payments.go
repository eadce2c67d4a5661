package api

import (
	"net/http"

	"checkout-service/internal/models"
	"checkout-service/internal/service"

	"github.com/gin-gonic/gin"
)

type failPaymentRequest struct {
	ErrorMessage string `json:"error_message"`
}

// initiatePayment handles checkout initiation
func (h *Handler) initiatePayment(c *gin.Context) {
	var req service.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	req.IdempotencyKey = c.GetHeader(headerIdempotencyKey)

	resp, err := h.payments.Initiate(c.Request.Context(), callerFrom(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if resp.Status == models.PaymentStatusPaid {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// confirmPayment handles the gateway success callback
func (h *Handler) confirmPayment(c *gin.Context) {
	var req service.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	resp, err := h.payments.Confirm(c.Request.Context(), callerFrom(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// failPayment handles the gateway failure callback
func (h *Handler) failPayment(c *gin.Context) {
	paymentID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req failPaymentRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
	}

	if err := h.payments.Fail(c.Request.Context(), callerFrom(c), paymentID, req.ErrorMessage); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_id": paymentID,
		"status":     models.PaymentStatusFailed,
	})
}

// getPayment handles get payment by ID
func (h *Handler) getPayment(c *gin.Context) {
	paymentID, ok := parseID(c, "id")
	if !ok {
		return
	}

	payment, err := h.payments.GetPayment(c.Request.Context(), callerFrom(c), paymentID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}
