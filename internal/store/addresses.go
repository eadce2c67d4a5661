package store

import (
	"context"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetAddress retrieves an address. Ownership is checked by the caller.
func (q *queries) GetAddress(ctx context.Context, id int64) (*models.Address, error) {
	var addr models.Address
	err := sqlx.GetContext(ctx, q.db, &addr, "SELECT * FROM addresses WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "address", id)
	}
	return &addr, nil
}

// CreateAddress stores a new address
func (q *queries) CreateAddress(ctx context.Context, addr *models.Address) error {
	query := `
		INSERT INTO addresses (user_id, full_name, phone, line1, line2, city, district, postal_code, country, is_one_off)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	return sqlx.GetContext(ctx, q.db, addr, query,
		addr.UserID, addr.FullName, addr.Phone, addr.Line1, addr.Line2,
		addr.City, addr.District, addr.PostalCode, addr.Country, addr.IsOneOff)
}
