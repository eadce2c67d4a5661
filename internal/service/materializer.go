package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

const orderNumberAttempts = 5

// OrderMaterializer turns a paid payment's cart snapshot into an order. All of
// its writes share one transaction: the order and its items, the stock
// decrements, the coupon usage, the payment link and the cart cleanup either
// all happen or none do.
type OrderMaterializer struct {
	repo      store.Repository
	inventory *InventoryLedger
	events    EventPublisher
	logger    *zap.Logger
	now       func() time.Time
	suffix    func() int
}

// NewOrderMaterializer creates a new order materializer
func NewOrderMaterializer(repo store.Repository, inventory *InventoryLedger, events EventPublisher) *OrderMaterializer {
	return &OrderMaterializer{
		repo:      repo,
		inventory: inventory,
		events:    events,
		logger:    util.GetLogger(),
		now:       time.Now,
		suffix:    func() int { return rand.Intn(10000) },
	}
}

// Materialize creates the order for a paid payment. A payment that already
// has an order returns that order without writing anything.
func (m *OrderMaterializer) Materialize(ctx context.Context, paymentID int64) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderMaterializer.Materialize")
	defer func() { util.EndSpan(span, err) }()

	start := time.Now()
	var (
		items   []models.OrderItem
		created bool
	)

	err = m.repo.WithTx(ctx, func(q store.Querier) error {
		payment, err := q.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment.OrderID.Valid {
			order, err = q.GetOrder(ctx, payment.OrderID.Int64)
			return err
		}
		if payment.Status != models.PaymentStatusPaid {
			return apperr.BadRequest(fmt.Sprintf("payment %d is %s, only paid payments produce orders", paymentID, payment.Status))
		}

		snap, err := models.ParseCartSnapshot(payment.CartSnapshot)
		if err != nil {
			return &apperr.Error{
				Kind:    apperr.KindBadRequest,
				Message: fmt.Sprintf("payment %d has no usable cart snapshot", paymentID),
				Err:     err,
			}
		}

		order, items, err = m.createOrder(ctx, q, payment, snap)
		if err != nil {
			return err
		}

		linked, err := q.SetPaymentOrderID(ctx, payment.ID, order.ID)
		if err != nil {
			return fmt.Errorf("failed to link payment to order: %w", err)
		}
		if !linked {
			return fmt.Errorf("payment %d was linked to another order concurrently", payment.ID)
		}

		if err := m.consumeCart(ctx, q, payment.UserID, snap); err != nil {
			return err
		}

		created = true
		return nil
	})
	util.MaterializationLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		reason := "internal"
		switch {
		case errors.Is(err, models.ErrInvalidSnapshot):
			reason = "invalid_snapshot"
		case errors.Is(err, store.ErrInsufficientStock):
			reason = "insufficient_stock"
		case errors.Is(err, store.ErrNotFound):
			reason = "not_found"
		case apperr.Is(err, apperr.KindBadRequest):
			reason = "not_paid"
		}
		util.MaterializationFailuresTotal.WithLabelValues(reason).Inc()
		util.LoggerFromContext(ctx).Error("Order materialization failed",
			zap.Int64("payment_id", paymentID),
			zap.String("reason", reason),
			zap.Error(err))

		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("payment %d not found", paymentID))
		}
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperr.Internal("failed to create order", err)
	}

	if !created {
		return order, nil
	}

	util.OrdersCreatedTotal.Inc()
	m.logger.Info("Order materialized",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("payment_id", paymentID),
		zap.String("total", order.TotalAmount.String()))

	m.publishOrderCreated(ctx, paymentID, order, items)
	return order, nil
}

func (m *OrderMaterializer) createOrder(ctx context.Context, q store.Querier, payment *models.Payment, snap *models.CartSnapshot) (*models.Order, []models.OrderItem, error) {
	number, err := m.allocateOrderNumber(ctx, q)
	if err != nil {
		return nil, nil, err
	}

	now := m.now()
	order := &models.Order{
		OrderNumber:          number,
		UserID:               payment.UserID,
		ShippingAddressID:    payment.ShippingAddressID,
		BillingAddressID:     payment.BillingAddressID,
		Subtotal:             snap.Subtotal,
		TaxAmount:            snap.TaxAmount,
		DiscountAmount:       snap.Discount,
		ShippingCost:         snap.ShippingCost,
		TotalAmount:          snap.TotalAmount,
		Currency:             snap.Currency,
		CouponCode:           snap.CouponCode,
		Note:                 snap.Note,
		PaymentMethod:        payment.Method,
		PaymentStatus:        models.PaymentStatusPaid,
		PaymentTransactionID: payment.TransactionID,
		Status:               models.OrderStatusProcessing,
		ProcessedAt:          sql.NullTime{Time: now, Valid: true},
	}
	if err := q.CreateOrder(ctx, order); err != nil {
		return nil, nil, fmt.Errorf("failed to create order: %w", err)
	}

	items := make([]models.OrderItem, 0, len(snap.Items))
	for _, si := range snap.Items {
		item := models.OrderItem{
			OrderID:         order.ID,
			ListingID:       si.ListingID,
			ProductID:       si.ProductID,
			ProductName:     si.ProductName,
			SellerID:        si.SellerID,
			SellerStoreName: si.SellerStoreName,
			Variant:         si.Variant,
			Quantity:        si.Quantity,
			UnitPrice:       si.UnitPrice,
			DiscountAmount:  si.LineDiscount,
			TaxRate:         snap.TaxRate,
			LineTotal:       si.LineTotal,
		}
		if err := q.CreateOrderItem(ctx, &item); err != nil {
			return nil, nil, fmt.Errorf("failed to create order item: %w", err)
		}
		if err := m.inventory.Decrement(ctx, q, si.ListingID, si.Quantity); err != nil {
			return nil, nil, err
		}
		items = append(items, item)
	}

	if snap.CouponCode != "" {
		if err := m.recordCouponUse(ctx, q, snap.CouponCode); err != nil {
			return nil, nil, err
		}
	}

	return order, items, nil
}

// recordCouponUse counts one use of the coupon priced into the snapshot. If
// the cap filled up after pricing, the quoted discount stands and the count
// is left at the cap.
func (m *OrderMaterializer) recordCouponUse(ctx context.Context, q store.Querier, code string) error {
	coupon, err := q.GetCouponByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("Coupon from snapshot no longer exists", zap.String("code", code))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load coupon: %w", err)
	}

	ok, err := q.IncrementCouponUsage(ctx, coupon.ID)
	if err != nil {
		return fmt.Errorf("failed to record coupon usage: %w", err)
	}
	if !ok {
		m.logger.Warn("Coupon usage cap reached after pricing, honouring quoted discount",
			zap.String("code", code),
			zap.Int64("coupon_id", coupon.ID))
	}
	return nil
}

// consumeCart removes the purchased lines. A cart left empty is retired and
// replaced with a fresh active one.
func (m *OrderMaterializer) consumeCart(ctx context.Context, q store.Querier, userID int64, snap *models.CartSnapshot) error {
	if snap.CartID == 0 {
		return nil
	}

	if err := q.DeleteCartLines(ctx, snap.CartID, snap.LineIDs); err != nil {
		return fmt.Errorf("failed to remove purchased cart lines: %w", err)
	}

	remaining, err := q.CountCartLines(ctx, snap.CartID)
	if err != nil {
		return fmt.Errorf("failed to count cart lines: %w", err)
	}
	if remaining > 0 {
		return nil
	}

	if err := q.DeactivateCart(ctx, snap.CartID); err != nil {
		return fmt.Errorf("failed to deactivate cart: %w", err)
	}
	if _, err := q.CreateActiveCart(ctx, userID); err != nil {
		return fmt.Errorf("failed to open a new cart: %w", err)
	}
	return nil
}

// allocateOrderNumber picks an unused MKT-YYYYMMDD-NNNN number. The unique
// index on order_number still guards against a concurrent pick.
func (m *OrderMaterializer) allocateOrderNumber(ctx context.Context, q store.Querier) (string, error) {
	day := m.now().UTC().Format("20060102")
	for i := 0; i < orderNumberAttempts; i++ {
		number := fmt.Sprintf("MKT-%s-%04d", day, m.suffix())
		taken, err := q.OrderNumberExists(ctx, number)
		if err != nil {
			return "", fmt.Errorf("failed to check order number: %w", err)
		}
		if !taken {
			return number, nil
		}
	}
	return "", fmt.Errorf("no free order number after %d attempts", orderNumberAttempts)
}

func (m *OrderMaterializer) publishOrderCreated(ctx context.Context, paymentID int64, order *models.Order, items []models.OrderItem) {
	data := make([]models.OrderItemData, 0, len(items))
	for _, it := range items {
		data = append(data, models.OrderItemData{
			ListingID: it.ListingID,
			SellerID:  it.SellerID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated, m.now()),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		PaymentID:   paymentID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Items:       data,
	}
	if err := m.events.PublishOrderCreated(ctx, event); err != nil {
		m.logger.Error("Failed to publish order created event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}
