package store

import (
	"context"
	"fmt"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrder creates a new order
func (q *queries) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (order_number, user_id, shipping_address_id, billing_address_id,
			subtotal, tax_amount, discount_amount, shipping_cost, total_amount, currency,
			coupon_code, note, payment_method, payment_status, payment_transaction_id,
			status, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at`

	err := sqlx.GetContext(ctx, q.db, order, query,
		order.OrderNumber, order.UserID, order.ShippingAddressID, order.BillingAddressID,
		order.Subtotal, order.TaxAmount, order.DiscountAmount, order.ShippingCost, order.TotalAmount,
		order.Currency, order.CouponCode, order.Note, order.PaymentMethod, order.PaymentStatus,
		order.PaymentTransactionID, order.Status, order.ProcessedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("order number %s: %w", order.OrderNumber, ErrDuplicate)
	}
	return err
}

// OrderNumberExists checks whether an order number is taken
func (q *queries) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q.db, &exists,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = $1)", number)
	return exists, err
}

// CreateOrderItem creates a new order item
func (q *queries) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, listing_id, product_id, product_name, seller_id, seller_store_name,
			variant, quantity, unit_price, discount_amount, tax_rate, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	return sqlx.GetContext(ctx, q.db, &item.ID, query,
		item.OrderID, item.ListingID, item.ProductID, item.ProductName, item.SellerID, item.SellerStoreName,
		item.Variant, item.Quantity, item.UnitPrice, item.DiscountAmount, item.TaxRate, item.LineTotal)
}

// GetOrder retrieves an order by ID
func (q *queries) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q.db, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return &order, nil
}

// LockOrder retrieves an order and holds its row lock until the transaction ends
func (q *queries) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q.db, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return &order, nil
}

// ListOrderItems retrieves all items for an order
func (q *queries) ListOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := sqlx.SelectContext(ctx, q.db, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// ListOrdersByUser retrieves orders for a user
func (q *queries) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := sqlx.SelectContext(ctx, q.db, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// UpdateOrderFulfillment writes the mutable fulfillment fields of an order
func (q *queries) UpdateOrderFulfillment(ctx context.Context, order *models.Order) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, shipping_provider = $2, tracking_number = $3,
			processed_at = $4, shipped_at = $5, delivered_at = $6, cancelled_at = $7
		WHERE id = $8`,
		order.Status, order.ShippingProvider, order.TrackingNumber,
		order.ProcessedAt, order.ShippedAt, order.DeliveredAt, order.CancelledAt, order.ID)
	return err
}

// SetItemsTracking stamps a tracking number on one seller's lines of an order
func (q *queries) SetItemsTracking(ctx context.Context, orderID, sellerID int64, tracking string) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE order_items SET tracking_number = $1 WHERE order_id = $2 AND seller_id = $3",
		tracking, orderID, sellerID)
	return err
}
