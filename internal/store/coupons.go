package store

import (
	"context"
	"fmt"
	"strings"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetActiveCouponByCode looks up an active coupon, case-insensitively
func (q *queries) GetActiveCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := sqlx.GetContext(ctx, q.db, &coupon,
		"SELECT * FROM coupons WHERE code = $1 AND is_active", strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, notFound(err, "coupon", code)
	}
	return &coupon, nil
}

// GetCouponByCode looks up a coupon regardless of its active flag
func (q *queries) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := sqlx.GetContext(ctx, q.db, &coupon,
		"SELECT * FROM coupons WHERE code = $1", strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, notFound(err, "coupon", code)
	}
	return &coupon, nil
}

// CreateCoupon creates a coupon. Codes are unique after upper-casing.
func (q *queries) CreateCoupon(ctx context.Context, coupon *models.Coupon) error {
	query := `
		INSERT INTO coupons (code, discount_percentage, valid_from, valid_until, minimum_purchase_amount,
			max_usage_count, current_usage_count, is_active, created_by_admin_id, seller_id)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9)
		RETURNING id, created_at`

	err := sqlx.GetContext(ctx, q.db, coupon, query,
		coupon.Code, coupon.DiscountPercentage, coupon.ValidFrom, coupon.ValidUntil,
		coupon.MinimumPurchaseAmount, coupon.MaxUsageCount, coupon.IsActive,
		coupon.CreatedByAdminID, coupon.SellerID)
	if isUniqueViolation(err) {
		return fmt.Errorf("coupon %s: %w", coupon.Code, ErrDuplicate)
	}
	return err
}

// IncrementCouponUsage adds one use. It reports false when the usage cap is
// already reached, in which case nothing is written.
func (q *queries) IncrementCouponUsage(ctx context.Context, couponID int64) (bool, error) {
	return affected(q.db.ExecContext(ctx, `
		UPDATE coupons SET current_usage_count = current_usage_count + 1
		WHERE id = $1 AND (max_usage_count IS NULL OR current_usage_count < max_usage_count)`,
		couponID))
}
