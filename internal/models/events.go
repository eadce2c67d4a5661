package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypePaymentInitiated   = "PAYMENT_INITIATED"
	EventTypePaymentCompleted   = "PAYMENT_COMPLETED"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"

	// inbound, produced by the payment gateway adapter
	EventTypeGatewayPaymentSucceeded = "GATEWAY_PAYMENT_SUCCEEDED"
	EventTypeGatewayPaymentFailed    = "GATEWAY_PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentInitiatedEvent published when a payment row is created
type PaymentInitiatedEvent struct {
	BaseEvent
	PaymentID int64           `json:"payment_id"`
	UserID    int64           `json:"user_id"`
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// PaymentCompletedEvent published when a payment reaches PAID
type PaymentCompletedEvent struct {
	BaseEvent
	PaymentID     int64           `json:"payment_id"`
	UserID        int64           `json:"user_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// PaymentFailedEvent published when a payment reaches FAILED
type PaymentFailedEvent struct {
	BaseEvent
	PaymentID int64  `json:"payment_id"`
	UserID    int64  `json:"user_id"`
	Reason    string `json:"reason"`
}

// OrderCreatedEvent published after materialization commits
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	PaymentID   int64           `json:"payment_id"`
	UserID      int64           `json:"user_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published on fulfillment transitions
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID        int64  `json:"order_id"`
	OldStatus      string `json:"old_status"`
	NewStatus      string `json:"new_status"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

// OrderCancelledEvent published when the customer cancels
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
	UserID  int64 `json:"user_id"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ListingID int64           `json:"listing_id"`
	SellerID  int64           `json:"seller_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// GatewayPaymentSucceededEvent is the gateway's out-of-band success callback
type GatewayPaymentSucceededEvent struct {
	BaseEvent
	PaymentID     int64  `json:"payment_id"`
	UserID        int64  `json:"user_id"`
	TransactionID string `json:"transaction_id"`
	Token         string `json:"token"`
}

// GatewayPaymentFailedEvent is the gateway's out-of-band failure callback
type GatewayPaymentFailedEvent struct {
	BaseEvent
	PaymentID int64  `json:"payment_id"`
	UserID    int64  `json:"user_id"`
	Reason    string `json:"reason"`
}
