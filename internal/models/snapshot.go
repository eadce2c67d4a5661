package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotVersion is written into every cart snapshot. Readers must keep
// accepting every version ever written.
const SnapshotVersion = 1

var ErrInvalidSnapshot = errors.New("invalid cart snapshot")

// CartSnapshot is the immutable priced cart captured when a payment is
// initiated. Orders are materialized from it, never from the live cart.
type CartSnapshot struct {
	Version      int                `json:"version"`
	CartID       int64              `json:"cart_id"`
	LineIDs      []int64            `json:"line_ids"`
	Items        []CartSnapshotItem `json:"items"`
	Subtotal     decimal.Decimal    `json:"subtotal"`
	TaxRate      decimal.Decimal    `json:"tax_rate"`
	TaxAmount    decimal.Decimal    `json:"tax_amount"`
	ShippingCost decimal.Decimal    `json:"shipping_cost"`
	Discount     decimal.Decimal    `json:"discount"`
	TotalAmount  decimal.Decimal    `json:"total_amount"`
	Currency     string             `json:"currency"`
	CouponCode   string             `json:"coupon_code,omitempty"`
	Note         string             `json:"note,omitempty"`
	CapturedAt   time.Time          `json:"captured_at"`
}

// CartSnapshotItem is one priced line, frozen at pricing time
type CartSnapshotItem struct {
	ListingID       int64           `json:"listing_id"`
	ProductID       int64           `json:"product_id"`
	ProductName     string          `json:"product_name"`
	SellerID        int64           `json:"seller_id"`
	SellerStoreName string          `json:"seller_store_name"`
	Variant         string          `json:"variant,omitempty"`
	Quantity        int             `json:"quantity"`
	OriginalPrice   decimal.Decimal `json:"original_price"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	LineDiscount    decimal.Decimal `json:"line_discount"`
	LineTotal       decimal.Decimal `json:"line_total"`
}

// Marshal encodes the snapshot, stamping the current version
func (s *CartSnapshot) Marshal() ([]byte, error) {
	if s.Version == 0 {
		s.Version = SnapshotVersion
	}
	return json.Marshal(s)
}

// ParseCartSnapshot decodes a stored snapshot and checks it can produce an order.
func ParseCartSnapshot(raw []byte) (*CartSnapshot, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSnapshot)
	}

	var s CartSnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	// snapshots written before versioning carry no version field
	if s.Version == 0 {
		s.Version = 1
	}
	if s.Version > SnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, s.Version)
	}
	if len(s.Items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidSnapshot)
	}
	for _, item := range s.Items {
		if item.ListingID == 0 || item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: bad line for listing %d", ErrInvalidSnapshot, item.ListingID)
		}
	}

	return &s, nil
}
