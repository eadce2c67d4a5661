package service

import (
	"context"
	"testing"
	"time"

	"checkout-service/config"
	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	buyerID      int64 = 1
	otherBuyerID int64 = 2
	sellerUserID int64 = 500
	sellerID     int64 = 50
	adminUserID  int64 = 900
	listingID    int64 = 10
	addressID    int64 = 100
)

var (
	buyer      = Caller{UserID: buyerID, Role: models.RoleCustomer}
	otherBuyer = Caller{UserID: otherBuyerID, Role: models.RoleCustomer}
	seller     = Caller{UserID: sellerUserID, Role: models.RoleSeller}
	admin      = Caller{UserID: adminUserID, Role: models.RoleAdmin}
)

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	ctx          context.Context
	now          time.Time
	repo         *memRepo
	locker       *memLocker
	idempotency  *memIdempotency
	events       *recordingPublisher
	pricing      *PricingEngine
	materializer *OrderMaterializer
	payments     *PaymentService
	orders       *OrderService
	carts        *CartService
	coupons      *CouponService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.CheckoutConfig{
		TaxRate:           mustDecimal("0.20"),
		ShippingCost:      mustDecimal("30"),
		Currency:          "TRY",
		GatewayName:       "MockGateway",
		GatewayBaseURL:    "https://gateway.test/pay",
		PendingPaymentTTL: 30 * time.Minute,
		LockTTL:           15 * time.Second,
		IdempotencyTTL:    time.Hour,
	}

	f := &fixture{
		ctx:         context.Background(),
		now:         time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC),
		repo:        newMemRepo(),
		locker:      newMemLocker(),
		idempotency: newMemIdempotency(),
		events:      &recordingPublisher{},
	}
	clock := func() time.Time { return f.now }

	inventory := NewInventoryLedger()
	f.pricing = NewPricingEngine(cfg, NewCouponValidator())
	f.pricing.now = clock

	f.materializer = NewOrderMaterializer(f.repo, inventory, f.events)
	f.materializer.now = clock
	seq := 0
	f.materializer.suffix = func() int {
		seq++
		return seq
	}

	f.payments = NewPaymentService(f.repo, f.pricing, inventory, f.materializer, f.locker, f.idempotency, f.events, cfg)
	f.payments.now = clock

	f.orders = NewOrderService(f.repo, inventory, f.events)
	f.orders.now = clock

	f.carts = NewCartService(f.repo, f.pricing, inventory)
	f.coupons = NewCouponService(f.repo)

	f.repo.seedSeller(sellerUserID, sellerID)
	f.repo.seedListing(models.Listing{
		ID:                 listingID,
		SellerID:           sellerID,
		SellerUserID:       sellerUserID,
		SellerStoreName:    "Acme Kitchen",
		ProductID:          7,
		ProductName:        "Kettle",
		OriginalPrice:      mustDecimal("100"),
		DiscountPercentage: decimal.Zero,
		Stock:              10,
		IsActive:           true,
	})
	f.repo.seedAddress(models.Address{ID: addressID, UserID: buyerID, FullName: "Ada Buyer", Line1: "1 Main St", City: "Izmir", Country: "TR"})
	f.repo.seedAddress(models.Address{ID: addressID + 1, UserID: otherBuyerID, FullName: "Bo Buyer", Line1: "2 Main St", City: "Izmir", Country: "TR"})

	return f
}

func (f *fixture) addToCart(t *testing.T, caller Caller, listing int64, qty int) *models.CartLine {
	t.Helper()
	line, err := f.carts.AddItem(f.ctx, caller, &AddCartItemRequest{ListingID: listing, Quantity: qty})
	require.NoError(t, err)
	return line
}

func (f *fixture) initiate(t *testing.T, caller Caller, method, coupon string) *InitiatePaymentResponse {
	t.Helper()
	resp, err := f.payments.Initiate(f.ctx, caller, f.initiateRequest(caller, method, coupon))
	require.NoError(t, err)
	return resp
}

func (f *fixture) initiateRequest(caller Caller, method, coupon string) *InitiatePaymentRequest {
	addr := addressID
	if caller.UserID == otherBuyerID {
		addr = addressID + 1
	}
	return &InitiatePaymentRequest{
		ShippingAddress: AddressInput{AddressID: &addr},
		PaymentMethod:   method,
		CouponCode:      coupon,
	}
}

func (f *fixture) confirm(caller Caller, resp *InitiatePaymentResponse) (*ConfirmPaymentResponse, error) {
	return f.payments.Confirm(f.ctx, caller, &ConfirmPaymentRequest{
		PaymentID:     resp.PaymentID,
		TransactionID: resp.TransactionID,
		PaymentToken:  "tok_123",
	})
}

func (f *fixture) seedSave10(maxUsage int64) int64 {
	c := models.Coupon{
		ID:                    77,
		Code:                  "SAVE10",
		DiscountPercentage:    mustDecimal("10"),
		ValidFrom:             f.now.Add(-24 * time.Hour),
		ValidUntil:            f.now.Add(24 * time.Hour),
		MinimumPurchaseAmount: mustDecimal("150"),
		IsActive:              true,
	}
	if maxUsage > 0 {
		c.MaxUsageCount.Int64, c.MaxUsageCount.Valid = maxUsage, true
	}
	f.repo.seedCoupon(c)
	return c.ID
}
