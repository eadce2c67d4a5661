package service

import (
	"context"
	"fmt"
	"time"

	"checkout-service/config"
	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
)

// PricedLine is a selected cart line joined with its listing
type PricedLine struct {
	Line      models.CartLine `json:"line"`
	Listing   models.Listing  `json:"-"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// PriceBreakdown is the priced view of the selected lines of a cart
type PriceBreakdown struct {
	Lines        []PricedLine    `json:"lines"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	Discount     decimal.Decimal `json:"discount"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Currency     string          `json:"currency"`
	CouponCode   string          `json:"coupon_code,omitempty"`
}

// PricingEngine computes subtotal, tax, shipping, discount and total. Lines are
// priced at the unit price stored on the cart line.
type PricingEngine struct {
	taxRate      decimal.Decimal
	shippingCost decimal.Decimal
	currency     string
	coupons      *CouponValidator
	now          func() time.Time
}

// NewPricingEngine creates a pricing engine from the checkout settings
func NewPricingEngine(cfg config.CheckoutConfig, coupons *CouponValidator) *PricingEngine {
	return &PricingEngine{
		taxRate:      cfg.TaxRate,
		shippingCost: cfg.ShippingCost,
		currency:     cfg.Currency,
		coupons:      coupons,
		now:          time.Now,
	}
}

// Price prices the selected lines. Unselected lines are ignored. An unknown or
// ineligible coupon yields a zero discount.
func (e *PricingEngine) Price(ctx context.Context, q store.Querier, lines []models.CartLine, couponCode string) (*PriceBreakdown, error) {
	ctx, span := util.StartSpan(ctx, "PricingEngine.Price")
	defer span.End()

	selected := selectedLines(lines)

	listings, err := loadListings(ctx, q, selected)
	if err != nil {
		return nil, err
	}

	b := &PriceBreakdown{
		Lines:        make([]PricedLine, 0, len(selected)),
		Subtotal:     decimal.Zero,
		TaxRate:      e.taxRate,
		ShippingCost: e.shippingCost,
		Discount:     decimal.Zero,
		Currency:     e.currency,
	}

	for _, line := range selected {
		listing, ok := listings[line.ListingID]
		if !ok {
			return nil, apperr.BadRequest(fmt.Sprintf("listing %d in your cart no longer exists", line.ListingID))
		}
		total := line.LineTotal()
		b.Lines = append(b.Lines, PricedLine{Line: line, Listing: listing, LineTotal: total})
		b.Subtotal = b.Subtotal.Add(total)
	}

	b.TaxAmount = b.Subtotal.Mul(e.taxRate).Round(2)

	if applied := e.coupons.Validate(ctx, q, couponCode, b.Subtotal, e.now()); applied != nil {
		b.Discount = applied.Amount
		b.CouponCode = applied.Code
	}

	b.TotalAmount = b.Subtotal.Add(b.TaxAmount).Add(b.ShippingCost).Sub(b.Discount)
	return b, nil
}

// Snapshot freezes the breakdown into the record an order is built from
func (b *PriceBreakdown) Snapshot(cartID int64, note string, capturedAt time.Time) *models.CartSnapshot {
	snap := &models.CartSnapshot{
		Version:      models.SnapshotVersion,
		CartID:       cartID,
		LineIDs:      make([]int64, 0, len(b.Lines)),
		Items:        make([]models.CartSnapshotItem, 0, len(b.Lines)),
		Subtotal:     b.Subtotal,
		TaxRate:      b.TaxRate,
		TaxAmount:    b.TaxAmount,
		ShippingCost: b.ShippingCost,
		Discount:     b.Discount,
		TotalAmount:  b.TotalAmount,
		Currency:     b.Currency,
		CouponCode:   b.CouponCode,
		Note:         note,
		CapturedAt:   capturedAt,
	}

	for _, pl := range b.Lines {
		qty := decimal.NewFromInt(int64(pl.Line.Quantity))
		lineDiscount := pl.Listing.OriginalPrice.Sub(pl.Line.UnitPrice).Mul(qty)
		if lineDiscount.IsNegative() {
			lineDiscount = decimal.Zero
		}

		snap.LineIDs = append(snap.LineIDs, pl.Line.ID)
		snap.Items = append(snap.Items, models.CartSnapshotItem{
			ListingID:       pl.Listing.ID,
			ProductID:       pl.Listing.ProductID,
			ProductName:     pl.Listing.ProductName,
			SellerID:        pl.Listing.SellerID,
			SellerStoreName: pl.Listing.SellerStoreName,
			Variant:         pl.Line.Variant,
			Quantity:        pl.Line.Quantity,
			OriginalPrice:   pl.Listing.OriginalPrice,
			UnitPrice:       pl.Line.UnitPrice,
			LineDiscount:    lineDiscount,
			LineTotal:       pl.LineTotal,
		})
	}
	return snap
}

func selectedLines(lines []models.CartLine) []models.CartLine {
	selected := make([]models.CartLine, 0, len(lines))
	for _, l := range lines {
		if l.IsSelected {
			selected = append(selected, l)
		}
	}
	return selected
}

func loadListings(ctx context.Context, q store.Querier, lines []models.CartLine) (map[int64]models.Listing, error) {
	if len(lines) == 0 {
		return map[int64]models.Listing{}, nil
	}

	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ListingID)
	}

	listings, err := q.GetListingsByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Internal("failed to load listings", err)
	}

	byID := make(map[int64]models.Listing, len(listings))
	for _, l := range listings {
		byID[l.ID] = l
	}
	return byID, nil
}
