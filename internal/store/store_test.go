package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run against a real PostgreSQL database named by
// TEST_DATABASE_URL and are skipped without one.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - set TEST_DATABASE_URL to run")
	}

	s, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// uniqueUser returns a user id no other test run has used
func uniqueUser() int64 {
	return time.Now().UnixNano() / 1000
}

type seeded struct {
	userID    int64
	sellerID  int64
	listingID int64
	addressID int64
}

func seedCatalog(t *testing.T, s *Store, stock int) seeded {
	t.Helper()
	ctx := context.Background()
	db := s.GetDB()
	out := seeded{userID: uniqueUser()}

	var productID int64
	require.NoError(t, db.GetContext(ctx, &productID, "INSERT INTO products (name) VALUES ('Kettle') RETURNING id"))
	require.NoError(t, db.GetContext(ctx, &out.sellerID,
		"INSERT INTO sellers (user_id, store_name) VALUES ($1, 'Acme Kitchen') RETURNING id", out.userID+1))
	require.NoError(t, db.GetContext(ctx, &out.listingID, `
		INSERT INTO listings (seller_id, product_id, original_price, discount_percentage, stock)
		VALUES ($1, $2, 100, 10, $3) RETURNING id`, out.sellerID, productID, stock))

	addr := &models.Address{UserID: out.userID, FullName: "Ada Buyer", Line1: "1 Main St", City: "Izmir", Country: "TR"}
	require.NoError(t, s.CreateAddress(ctx, addr))
	out.addressID = addr.ID
	return out
}

func seedPayment(t *testing.T, s *Store, c seeded) *models.Payment {
	t.Helper()
	p := &models.Payment{
		UserID:            c.userID,
		Method:            models.PaymentMethodCreditCard,
		Status:            models.PaymentStatusPending,
		Amount:            decimal.RequireFromString("270"),
		Currency:          "TRY",
		GatewayName:       "MockGateway",
		TransactionID:     fmt.Sprintf("TXN-%d", c.userID),
		CartSnapshot:      []byte(`{"version":1,"items":[{"listing_id":1,"quantity":1}]}`),
		ShippingAddressID: c.addressID,
		BillingAddressID:  c.addressID,
	}
	require.NoError(t, s.CreatePayment(context.Background(), p))
	return p
}

func TestListingJoinsSellerAndProduct(t *testing.T) {
	s := openTestStore(t)
	c := seedCatalog(t, s, 5)

	l, err := s.GetListing(context.Background(), c.listingID)
	require.NoError(t, err)
	assert.Equal(t, "Kettle", l.ProductName)
	assert.Equal(t, "Acme Kitchen", l.SellerStoreName)
	assert.Equal(t, c.userID+1, l.SellerUserID)
	assert.True(t, l.UnitPrice().Equal(decimal.RequireFromString("90")))

	_, err = s.GetListing(context.Background(), -1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecrementStockNeverOversells(t *testing.T) {
	s := openTestStore(t)
	c := seedCatalog(t, s, 3)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sold int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(q Querier) error {
				return q.DecrementStock(ctx, c.listingID, 1)
			})
			if err == nil {
				mu.Lock()
				sold++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInsufficientStock)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, sold)
	l, err := s.GetListing(ctx, c.listingID)
	require.NoError(t, err)
	assert.Zero(t, l.Stock)

	require.NoError(t, s.RestoreStock(ctx, c.listingID, 2))
	l, err = s.GetListing(ctx, c.listingID)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Stock)
}

func TestWithTxRollsBack(t *testing.T) {
	s := openTestStore(t)
	c := seedCatalog(t, s, 5)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(q Querier) error {
		if err := q.DecrementStock(ctx, c.listingID, 2); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	l, err := s.GetListing(ctx, c.listingID)
	require.NoError(t, err)
	assert.Equal(t, 5, l.Stock)
}

func TestCouponUsageStopsAtCap(t *testing.T) {
	s := openTestStore(t)
	c := seedCatalog(t, s, 1)
	ctx := context.Background()

	coupon := &models.Coupon{
		Code:                  fmt.Sprintf("CAP%d", c.userID),
		DiscountPercentage:    decimal.RequireFromString("10"),
		ValidFrom:             time.Now().Add(-time.Hour),
		ValidUntil:            time.Now().Add(time.Hour),
		MinimumPurchaseAmount: decimal.Zero,
		MaxUsageCount:         sql.NullInt64{Int64: 1, Valid: true},
		IsActive:              true,
		SellerID:              sql.NullInt64{Int64: c.sellerID, Valid: true},
	}
	require.NoError(t, s.CreateCoupon(ctx, coupon))

	dup := *coupon
	assert.ErrorIs(t, s.CreateCoupon(ctx, &dup), ErrDuplicate)

	ok, err := s.IncrementCouponUsage(ctx, coupon.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IncrementCouponUsage(ctx, coupon.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := s.GetActiveCouponByCode(ctx, coupon.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.CurrentUsageCount)
}

func TestPaymentTransitionsApplyOnce(t *testing.T) {
	s := openTestStore(t)
	c := seedCatalog(t, s, 1)
	ctx := context.Background()
	p := seedPayment(t, s, c)

	ok, err := s.MarkPaymentPaid(ctx, p.ID, "tok", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkPaymentPaid(ctx, p.ID, "tok", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.MarkPaymentFailed(ctx, p.ID, "late decline", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := s.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, stored.Status)
	assert.True(t, stored.CompletedAt.Valid)
	assert.JSONEq(t, string(p.CartSnapshot), string(stored.CartSnapshot))

	orphans, err := s.ListUnmaterializedPayments(ctx, 1000)
	require.NoError(t, err)
	assert.Contains(t, paymentIDs(orphans), p.ID)
}

func TestPaymentLinksToOneOrder(t *testing.T) {
	s := openTestStore(t)
	c := seedCatalog(t, s, 1)
	ctx := context.Background()
	p := seedPayment(t, s, c)

	order := &models.Order{
		OrderNumber:       fmt.Sprintf("MKT-TEST-%d", c.userID),
		UserID:            c.userID,
		ShippingAddressID: c.addressID,
		BillingAddressID:  c.addressID,
		Subtotal:          decimal.RequireFromString("200"),
		TaxAmount:         decimal.RequireFromString("40"),
		DiscountAmount:    decimal.Zero,
		ShippingCost:      decimal.RequireFromString("30"),
		TotalAmount:       decimal.RequireFromString("270"),
		Currency:          "TRY",
		PaymentMethod:     models.PaymentMethodCreditCard,
		PaymentStatus:     models.PaymentStatusPaid,
		Status:            models.OrderStatusProcessing,
		ProcessedAt:       sql.NullTime{Time: time.Now(), Valid: true},
	}
	require.NoError(t, s.CreateOrder(ctx, order))

	taken, err := s.OrderNumberExists(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.True(t, taken)

	again := *order
	assert.ErrorIs(t, s.CreateOrder(ctx, &again), ErrDuplicate)

	ok, err := s.SetPaymentOrderID(ctx, p.ID, order.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetPaymentOrderID(ctx, p.ID, order.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStalePendingPayments(t *testing.T) {
	s := openTestStore(t)
	c := seedCatalog(t, s, 1)
	ctx := context.Background()
	p := seedPayment(t, s, c)

	_, err := s.GetDB().ExecContext(ctx,
		"UPDATE payments SET created_at = NOW() - INTERVAL '2 hours' WHERE id = $1", p.ID)
	require.NoError(t, err)

	stale, err := s.ListStalePendingPayments(ctx, time.Now().Add(-time.Hour), 1000)
	require.NoError(t, err)
	assert.Contains(t, paymentIDs(stale), p.ID)
}

func TestCartLinesMergeAndOneActiveCart(t *testing.T) {
	s := openTestStore(t)
	c := seedCatalog(t, s, 10)
	ctx := context.Background()

	cart, err := s.CreateActiveCart(ctx, c.userID)
	require.NoError(t, err)
	same, err := s.CreateActiveCart(ctx, c.userID)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, same.ID)

	first := &models.CartLine{CartID: cart.ID, ListingID: c.listingID, Quantity: 2, UnitPrice: decimal.RequireFromString("90")}
	require.NoError(t, s.AddCartLine(ctx, first))
	second := &models.CartLine{CartID: cart.ID, ListingID: c.listingID, Quantity: 1, UnitPrice: decimal.RequireFromString("90")}
	require.NoError(t, s.AddCartLine(ctx, second))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, second.Quantity)

	require.NoError(t, s.DeleteCartLines(ctx, cart.ID, []int64{first.ID}))
	n, err := s.CountCartLines(ctx, cart.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.DeactivateCart(ctx, cart.ID))
	_, err = s.GetActiveCart(ctx, c.userID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func paymentIDs(ps []models.Payment) []int64 {
	ids := make([]int64, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	return ids
}
