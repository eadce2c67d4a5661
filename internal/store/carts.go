package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetActiveCart retrieves the user's single active cart
func (q *queries) GetActiveCart(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := sqlx.GetContext(ctx, q.db, &cart,
		"SELECT id, user_id, is_active, created_at, updated_at FROM carts WHERE user_id = $1 AND is_active",
		userID)
	if err != nil {
		return nil, notFound(err, "active cart for user", userID)
	}
	return &cart, nil
}

// CreateActiveCart creates an active cart, or returns the one a concurrent
// request created first. The partial unique index on (user_id) WHERE is_active
// arbitrates the race.
func (q *queries) CreateActiveCart(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := sqlx.GetContext(ctx, q.db, &cart, `
		INSERT INTO carts (user_id, is_active)
		VALUES ($1, TRUE)
		ON CONFLICT (user_id) WHERE is_active DO NOTHING
		RETURNING id, user_id, is_active, created_at, updated_at`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return q.GetActiveCart(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return &cart, nil
}

// DeactivateCart retires a cart consumed by an order
func (q *queries) DeactivateCart(ctx context.Context, cartID int64) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE carts SET is_active = FALSE, updated_at = NOW() WHERE id = $1", cartID)
	return err
}

// ListCartLines retrieves all lines of a cart
func (q *queries) ListCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := sqlx.SelectContext(ctx, q.db, &lines,
		"SELECT * FROM cart_lines WHERE cart_id = $1 ORDER BY id", cartID)
	return lines, err
}

// GetCartLine retrieves one cart line
func (q *queries) GetCartLine(ctx context.Context, lineID int64) (*models.CartLine, error) {
	var line models.CartLine
	err := sqlx.GetContext(ctx, q.db, &line, "SELECT * FROM cart_lines WHERE id = $1", lineID)
	if err != nil {
		return nil, notFound(err, "cart line", lineID)
	}
	return &line, nil
}

// AddCartLine inserts a line, merging quantities into an existing line for the
// same listing and variant.
func (q *queries) AddCartLine(ctx context.Context, line *models.CartLine) error {
	query := `
		INSERT INTO cart_lines (cart_id, listing_id, quantity, unit_price, is_selected, variant)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		ON CONFLICT (cart_id, listing_id, variant) DO UPDATE
		SET quantity = cart_lines.quantity + EXCLUDED.quantity,
		    unit_price = EXCLUDED.unit_price,
		    is_selected = TRUE
		RETURNING id, quantity, is_selected, created_at`

	return sqlx.GetContext(ctx, q.db, line, query,
		line.CartID, line.ListingID, line.Quantity, line.UnitPrice, line.Variant)
}

// UpdateCartLine updates quantity and checkout selection
func (q *queries) UpdateCartLine(ctx context.Context, line *models.CartLine) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE cart_lines SET quantity = $1, is_selected = $2 WHERE id = $3",
		line.Quantity, line.IsSelected, line.ID)
	return err
}

// DeleteCartLines removes the given lines from a cart
func (q *queries) DeleteCartLines(ctx context.Context, cartID int64, lineIDs []int64) error {
	if len(lineIDs) == 0 {
		return nil
	}

	query, args, err := sqlx.In("DELETE FROM cart_lines WHERE cart_id = ? AND id IN (?)", cartID, lineIDs)
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx, q.db.Rebind(query), args...)
	return err
}

// CountCartLines counts the lines left in a cart
func (q *queries) CountCartLines(ctx context.Context, cartID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q.db, &n, "SELECT COUNT(*) FROM cart_lines WHERE cart_id = $1", cartID)
	return n, err
}
