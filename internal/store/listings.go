package store

import (
	"context"
	"fmt"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const listingColumns = `
	l.id, l.seller_id, s.user_id AS seller_user_id, s.store_name AS seller_store_name,
	l.product_id, p.name AS product_name, l.original_price, l.discount_percentage,
	l.stock, l.is_active, l.updated_at
	FROM listings l
	JOIN sellers s ON s.id = l.seller_id
	JOIN products p ON p.id = l.product_id`

// GetListing retrieves a live listing with its product and seller names
func (q *queries) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	var listing models.Listing
	err := sqlx.GetContext(ctx, q.db, &listing,
		"SELECT "+listingColumns+" WHERE l.id = $1 AND l.deleted_at IS NULL", id)
	if err != nil {
		return nil, notFound(err, "listing", id)
	}
	return &listing, nil
}

// GetListingsByIDs retrieves multiple live listings by IDs
func (q *queries) GetListingsByIDs(ctx context.Context, ids []int64) ([]models.Listing, error) {
	if len(ids) == 0 {
		return []models.Listing{}, nil
	}

	query, args, err := sqlx.In("SELECT "+listingColumns+" WHERE l.id IN (?) AND l.deleted_at IS NULL", ids)
	if err != nil {
		return nil, err
	}
	query = q.db.Rebind(query)

	var listings []models.Listing
	err = sqlx.SelectContext(ctx, q.db, &listings, query, args...)
	return listings, err
}

// GetSellerIDByUserID resolves the seller profile owned by a user
func (q *queries) GetSellerIDByUserID(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := sqlx.GetContext(ctx, q.db, &id, "SELECT id FROM sellers WHERE user_id = $1", userID)
	if err != nil {
		return 0, notFound(err, "seller for user", userID)
	}
	return id, nil
}

// DecrementStock takes quantity units out of a listing. The update only applies
// while enough stock remains, so two concurrent checkouts cannot oversell.
func (q *queries) DecrementStock(ctx context.Context, listingID int64, quantity int) error {
	ok, err := affected(q.db.ExecContext(ctx,
		"UPDATE listings SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1",
		quantity, listingID))
	if err != nil {
		return fmt.Errorf("failed to decrement stock for listing %d: %w", listingID, err)
	}
	if !ok {
		return fmt.Errorf("listing %d: %w", listingID, ErrInsufficientStock)
	}
	return nil
}

// RestoreStock puts quantity units back on a listing
func (q *queries) RestoreStock(ctx context.Context, listingID int64, quantity int) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE listings SET stock = stock + $1, updated_at = NOW() WHERE id = $2",
		quantity, listingID)
	return err
}
