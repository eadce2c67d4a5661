package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Listing is a seller's sellable offer of a catalog product
type Listing struct {
	ID                 int64           `db:"id" json:"id"`
	SellerID           int64           `db:"seller_id" json:"seller_id"`
	SellerUserID       int64           `db:"seller_user_id" json:"-"`
	SellerStoreName    string          `db:"seller_store_name" json:"seller_store_name"`
	ProductID          int64           `db:"product_id" json:"product_id"`
	ProductName        string          `db:"product_name" json:"product_name"`
	OriginalPrice      decimal.Decimal `db:"original_price" json:"original_price"`
	DiscountPercentage decimal.Decimal `db:"discount_percentage" json:"discount_percentage"`
	Stock              int             `db:"stock" json:"stock"`
	IsActive           bool            `db:"is_active" json:"is_active"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// UnitPrice is always derived from the original price and the listing discount,
// rounded half away from zero to the cent like every stored amount.
func (l *Listing) UnitPrice() decimal.Decimal {
	return l.OriginalPrice.Mul(hundred.Sub(l.DiscountPercentage)).Div(hundred).Round(2)
}

// Cart is a user's mutable shopping cart. At most one active cart exists per user.
type Cart struct {
	ID        int64      `db:"id" json:"id"`
	UserID    int64      `db:"user_id" json:"user_id"`
	IsActive  bool       `db:"is_active" json:"is_active"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	Lines     []CartLine `db:"-" json:"lines"`
}

// CartLine is one listing + quantity entry in a cart
type CartLine struct {
	ID         int64           `db:"id" json:"id"`
	CartID     int64           `db:"cart_id" json:"cart_id"`
	ListingID  int64           `db:"listing_id" json:"listing_id"`
	Quantity   int             `db:"quantity" json:"quantity"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unit_price"`
	IsSelected bool            `db:"is_selected" json:"is_selected"`
	Variant    string          `db:"variant" json:"variant,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// LineTotal returns unit price times quantity
func (l *CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Coupon is a percentage discount code. Exactly one of CreatedByAdmin / SellerID owns it.
type Coupon struct {
	ID                    int64           `db:"id" json:"id"`
	Code                  string          `db:"code" json:"code"`
	DiscountPercentage    decimal.Decimal `db:"discount_percentage" json:"discount_percentage"`
	ValidFrom             time.Time       `db:"valid_from" json:"valid_from"`
	ValidUntil            time.Time       `db:"valid_until" json:"valid_until"`
	MinimumPurchaseAmount decimal.Decimal `db:"minimum_purchase_amount" json:"minimum_purchase_amount"`
	MaxUsageCount         sql.NullInt64   `db:"max_usage_count" json:"-"`
	CurrentUsageCount     int64           `db:"current_usage_count" json:"current_usage_count"`
	IsActive              bool            `db:"is_active" json:"is_active"`
	CreatedByAdminID      sql.NullInt64   `db:"created_by_admin_id" json:"-"`
	SellerID              sql.NullInt64   `db:"seller_id" json:"-"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}

// Address is a shipping or billing address from the address book
type Address struct {
	ID         int64     `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"user_id"`
	FullName   string    `db:"full_name" json:"full_name"`
	Phone      string    `db:"phone" json:"phone"`
	Line1      string    `db:"line1" json:"line1"`
	Line2      string    `db:"line2" json:"line2,omitempty"`
	City       string    `db:"city" json:"city"`
	District   string    `db:"district" json:"district,omitempty"`
	PostalCode string    `db:"postal_code" json:"postal_code"`
	Country    string    `db:"country" json:"country"`
	IsOneOff   bool      `db:"is_one_off" json:"is_one_off"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Payment is the staging record between a cart and an order
type Payment struct {
	ID                int64           `db:"id" json:"id"`
	UserID            int64           `db:"user_id" json:"user_id"`
	Method            string          `db:"method" json:"method"`
	Status            string          `db:"status" json:"status"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Currency          string          `db:"currency" json:"currency"`
	GatewayName       string          `db:"gateway_name" json:"gateway_name"`
	GatewayURL        string          `db:"gateway_url" json:"gateway_url,omitempty"`
	TransactionID     string          `db:"transaction_id" json:"transaction_id,omitempty"`
	ConfirmationToken string          `db:"confirmation_token" json:"-"`
	CartSnapshot      []byte          `db:"cart_snapshot" json:"-"`
	ShippingAddressID int64           `db:"shipping_address_id" json:"shipping_address_id"`
	BillingAddressID  int64           `db:"billing_address_id" json:"billing_address_id"`
	OrderID           sql.NullInt64   `db:"order_id" json:"-"`
	ErrorMessage      string          `db:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	CompletedAt       sql.NullTime    `db:"completed_at" json:"-"`
	FailedAt          sql.NullTime    `db:"failed_at" json:"-"`
}

// Order is immutable once created except for fulfillment fields and cancellation
type Order struct {
	ID                   int64           `db:"id" json:"id"`
	OrderNumber          string          `db:"order_number" json:"order_number"`
	UserID               int64           `db:"user_id" json:"user_id"`
	ShippingAddressID    int64           `db:"shipping_address_id" json:"shipping_address_id"`
	BillingAddressID     int64           `db:"billing_address_id" json:"billing_address_id"`
	Subtotal             decimal.Decimal `db:"subtotal" json:"subtotal"`
	TaxAmount            decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	DiscountAmount       decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	ShippingCost         decimal.Decimal `db:"shipping_cost" json:"shipping_cost"`
	TotalAmount          decimal.Decimal `db:"total_amount" json:"total_amount"`
	Currency             string          `db:"currency" json:"currency"`
	CouponCode           string          `db:"coupon_code" json:"coupon_code,omitempty"`
	Note                 string          `db:"note" json:"note,omitempty"`
	PaymentMethod        string          `db:"payment_method" json:"payment_method"`
	PaymentStatus        string          `db:"payment_status" json:"payment_status"`
	PaymentTransactionID string          `db:"payment_transaction_id" json:"payment_transaction_id"`
	Status               string          `db:"status" json:"status"`
	ShippingProvider     string          `db:"shipping_provider" json:"shipping_provider,omitempty"`
	TrackingNumber       string          `db:"tracking_number" json:"tracking_number,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt          sql.NullTime    `db:"processed_at" json:"-"`
	ShippedAt            sql.NullTime    `db:"shipped_at" json:"-"`
	DeliveredAt          sql.NullTime    `db:"delivered_at" json:"-"`
	CancelledAt          sql.NullTime    `db:"cancelled_at" json:"-"`
}

// OrderItem is a frozen copy of one priced cart line
type OrderItem struct {
	ID              int64           `db:"id" json:"id"`
	OrderID         int64           `db:"order_id" json:"order_id"`
	ListingID       int64           `db:"listing_id" json:"listing_id"`
	ProductID       int64           `db:"product_id" json:"product_id"`
	ProductName     string          `db:"product_name" json:"product_name"`
	SellerID        int64           `db:"seller_id" json:"seller_id"`
	SellerStoreName string          `db:"seller_store_name" json:"seller_store_name"`
	Variant         string          `db:"variant" json:"variant,omitempty"`
	Quantity        int             `db:"quantity" json:"quantity"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"unit_price"`
	DiscountAmount  decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TaxRate         decimal.Decimal `db:"tax_rate" json:"tax_rate"`
	LineTotal       decimal.Decimal `db:"line_total" json:"line_total"`
	TrackingNumber  string          `db:"tracking_number" json:"tracking_number,omitempty"`
}

// Order statuses
const (
	OrderStatusAwaitingPayment = "AWAITING_PAYMENT"
	OrderStatusProcessing      = "PROCESSING"
	OrderStatusShipped         = "SHIPPED"
	OrderStatusDelivered       = "DELIVERED"
	OrderStatusCancelled       = "CANCELLED"
)

// Payment statuses
const (
	PaymentStatusPending = "PENDING"
	PaymentStatusPaid    = "PAID"
	PaymentStatusFailed  = "FAILED"
)

// Payment methods
const (
	PaymentMethodCreditCard     = "CREDIT_CARD"
	PaymentMethodBankTransfer   = "BANK_TRANSFER"
	PaymentMethodCashOnDelivery = "CASH_ON_DELIVERY"
	PaymentMethodWallet         = "WALLET"
	PaymentMethodStoredCard     = "STORED_CARD"
)

// Roles forwarded by the identity gateway
const (
	RoleCustomer = "customer"
	RoleSeller   = "seller"
	RoleAdmin    = "admin"
)

// IsValidPaymentMethod reports whether m is a supported payment method
func IsValidPaymentMethod(m string) bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodBankTransfer, PaymentMethodCashOnDelivery,
		PaymentMethodWallet, PaymentMethodStoredCard:
		return true
	}
	return false
}
