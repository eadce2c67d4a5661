package store

import (
	"context"
	"time"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreatePayment creates a new payment record
func (q *queries) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (user_id, method, status, amount, currency, gateway_name, gateway_url,
			transaction_id, cart_snapshot, shipping_address_id, billing_address_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	return sqlx.GetContext(ctx, q.db, payment, query,
		payment.UserID, payment.Method, payment.Status, payment.Amount, payment.Currency,
		payment.GatewayName, payment.GatewayURL, payment.TransactionID, payment.CartSnapshot,
		payment.ShippingAddressID, payment.BillingAddressID)
}

// GetPayment retrieves a payment by ID
func (q *queries) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	var payment models.Payment
	err := sqlx.GetContext(ctx, q.db, &payment, "SELECT * FROM payments WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "payment", id)
	}
	return &payment, nil
}

// LockPayment retrieves a payment and holds its row lock until the transaction ends
func (q *queries) LockPayment(ctx context.Context, id int64) (*models.Payment, error) {
	var payment models.Payment
	err := sqlx.GetContext(ctx, q.db, &payment, "SELECT * FROM payments WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, "payment", id)
	}
	return &payment, nil
}

// MarkPaymentPaid moves a payment from PENDING to PAID. It reports false if the
// payment was no longer pending.
func (q *queries) MarkPaymentPaid(ctx context.Context, id int64, token string, at time.Time) (bool, error) {
	return affected(q.db.ExecContext(ctx, `
		UPDATE payments SET status = $1, confirmation_token = $2, completed_at = $3
		WHERE id = $4 AND status = $5`,
		models.PaymentStatusPaid, token, at, id, models.PaymentStatusPending))
}

// MarkPaymentFailed moves a payment from PENDING to FAILED
func (q *queries) MarkPaymentFailed(ctx context.Context, id int64, message string, at time.Time) (bool, error) {
	return affected(q.db.ExecContext(ctx, `
		UPDATE payments SET status = $1, error_message = $2, failed_at = $3
		WHERE id = $4 AND status = $5`,
		models.PaymentStatusFailed, message, at, id, models.PaymentStatusPending))
}

// SetPaymentOrderID links a payment to its order. It only ever fills a null
// order_id and reports false if one was already set.
func (q *queries) SetPaymentOrderID(ctx context.Context, paymentID, orderID int64) (bool, error) {
	return affected(q.db.ExecContext(ctx,
		"UPDATE payments SET order_id = $1 WHERE id = $2 AND order_id IS NULL",
		orderID, paymentID))
}

// ListStalePendingPayments returns pending payments created before the cutoff
func (q *queries) ListStalePendingPayments(ctx context.Context, before time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := sqlx.SelectContext(ctx, q.db, &payments,
		"SELECT * FROM payments WHERE status = $1 AND created_at < $2 ORDER BY created_at LIMIT $3",
		models.PaymentStatusPending, before, limit)
	return payments, err
}

// ListUnmaterializedPayments returns paid payments that never produced an order
func (q *queries) ListUnmaterializedPayments(ctx context.Context, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := sqlx.SelectContext(ctx, q.db, &payments,
		"SELECT * FROM payments WHERE status = $1 AND order_id IS NULL ORDER BY completed_at LIMIT $2",
		models.PaymentStatusPaid, limit)
	return payments, err
}
