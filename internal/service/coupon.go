package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// Reasons a coupon does not apply. Callers never see them; they label metrics and logs.
const (
	couponApplied       = "applied"
	couponUnknown       = "unknown"
	couponInactive      = "inactive"
	couponNotYetValid   = "not_yet_valid"
	couponExpired       = "expired"
	couponBelowMinimum  = "below_minimum"
	couponUsageExceeded = "usage_exceeded"
	couponLookupFailed  = "lookup_failed"
)

// AppliedDiscount is an eligible coupon and the amount it takes off
type AppliedDiscount struct {
	CouponID int64
	Code     string
	Amount   decimal.Decimal
}

// CouponValidator decides whether a code applies to a subtotal. It fails open:
// any problem with a code means no discount, never a failed checkout.
type CouponValidator struct {
	logger *zap.Logger
}

// NewCouponValidator creates a new coupon validator
func NewCouponValidator() *CouponValidator {
	return &CouponValidator{logger: util.GetLogger()}
}

// Validate returns the discount for code, or nil when the code does not apply.
func (v *CouponValidator) Validate(ctx context.Context, q store.Querier, code string, subtotal decimal.Decimal, now time.Time) *AppliedDiscount {
	code = normalizeCouponCode(code)
	if code == "" {
		return nil
	}

	ctx, span := util.StartSpan(ctx, "CouponValidator.Validate")
	defer span.End()

	coupon, err := q.GetActiveCouponByCode(ctx, code)
	if err != nil {
		reason := couponUnknown
		if !errors.Is(err, store.ErrNotFound) {
			reason = couponLookupFailed
			util.LoggerFromContext(ctx).Warn("Coupon lookup failed, pricing without discount",
				zap.String("code", code),
				zap.Error(err))
		}
		util.CouponEvaluationsTotal.WithLabelValues(reason).Inc()
		return nil
	}

	if reason := couponIneligibility(coupon, subtotal, now); reason != "" {
		util.CouponEvaluationsTotal.WithLabelValues(reason).Inc()
		v.logger.Debug("Coupon not applied",
			zap.String("code", code),
			zap.String("reason", reason))
		return nil
	}

	util.CouponEvaluationsTotal.WithLabelValues(couponApplied).Inc()
	return &AppliedDiscount{
		CouponID: coupon.ID,
		Code:     coupon.Code,
		Amount:   subtotal.Mul(coupon.DiscountPercentage).Div(hundred).Round(2),
	}
}

// couponIneligibility returns why a coupon does not apply, or "" if it does.
// The validity window is inclusive on both ends.
func couponIneligibility(c *models.Coupon, subtotal decimal.Decimal, now time.Time) string {
	switch {
	case !c.IsActive:
		return couponInactive
	case now.Before(c.ValidFrom):
		return couponNotYetValid
	case now.After(c.ValidUntil):
		return couponExpired
	case subtotal.LessThan(c.MinimumPurchaseAmount):
		return couponBelowMinimum
	case c.MaxUsageCount.Valid && c.CurrentUsageCount >= c.MaxUsageCount.Int64:
		return couponUsageExceeded
	}
	return ""
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CouponService lets admins and sellers issue coupons
type CouponService struct {
	repo   store.Repository
	logger *zap.Logger
}

// NewCouponService creates a new coupon service
func NewCouponService(repo store.Repository) *CouponService {
	return &CouponService{repo: repo, logger: util.GetLogger()}
}

// CreateCouponRequest represents a request to create a coupon
type CreateCouponRequest struct {
	Code                  string          `json:"code" binding:"required"`
	DiscountPercentage    decimal.Decimal `json:"discount_percentage"`
	ValidFrom             time.Time       `json:"valid_from" binding:"required"`
	ValidUntil            time.Time       `json:"valid_until" binding:"required"`
	MinimumPurchaseAmount decimal.Decimal `json:"minimum_purchase_amount"`
	MaxUsageCount         *int64          `json:"max_usage_count,omitempty"`
	IsActive              *bool           `json:"is_active,omitempty"`
}

// CreateCoupon issues a coupon owned by the calling admin or seller
func (s *CouponService) CreateCoupon(ctx context.Context, caller Caller, req *CreateCouponRequest) (*models.Coupon, error) {
	ctx, span := util.StartSpan(ctx, "CouponService.CreateCoupon")
	defer span.End()

	if err := caller.requireUser(); err != nil {
		return nil, err
	}

	coupon := &models.Coupon{
		Code:                  normalizeCouponCode(req.Code),
		DiscountPercentage:    req.DiscountPercentage,
		ValidFrom:             req.ValidFrom,
		ValidUntil:            req.ValidUntil,
		MinimumPurchaseAmount: req.MinimumPurchaseAmount,
		IsActive:              req.IsActive == nil || *req.IsActive,
	}
	if err := validateCoupon(coupon, req.MaxUsageCount); err != nil {
		return nil, err
	}
	if req.MaxUsageCount != nil {
		coupon.MaxUsageCount = sql.NullInt64{Int64: *req.MaxUsageCount, Valid: true}
	}

	switch {
	case caller.IsAdmin():
		coupon.CreatedByAdminID = sql.NullInt64{Int64: caller.UserID, Valid: true}
	case caller.IsSeller():
		sellerID, err := s.repo.GetSellerIDByUserID(ctx, caller.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Forbidden("no seller profile for this account")
		}
		if err != nil {
			return nil, apperr.Internal("failed to resolve seller", err)
		}
		coupon.SellerID = sql.NullInt64{Int64: sellerID, Valid: true}
	default:
		return nil, apperr.Forbidden("only admins and sellers can create coupons")
	}

	if err := s.repo.CreateCoupon(ctx, coupon); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Conflict(fmt.Sprintf("coupon code %s already exists", coupon.Code))
		}
		return nil, apperr.Internal("failed to create coupon", err)
	}

	s.logger.Info("Coupon created",
		zap.Int64("coupon_id", coupon.ID),
		zap.String("code", coupon.Code),
		zap.Int64("user_id", caller.UserID))

	return coupon, nil
}

func validateCoupon(c *models.Coupon, maxUsage *int64) error {
	if c.Code == "" {
		return apperr.BadRequest("coupon code is required")
	}
	if !c.DiscountPercentage.IsPositive() || c.DiscountPercentage.GreaterThan(hundred) {
		return apperr.BadRequest("discount percentage must be greater than 0 and at most 100")
	}
	if c.MinimumPurchaseAmount.IsNegative() {
		return apperr.BadRequest("minimum purchase amount cannot be negative")
	}
	if !c.ValidUntil.After(c.ValidFrom) {
		return apperr.BadRequest("valid_until must be after valid_from")
	}
	if maxUsage != nil && *maxUsage <= 0 {
		return apperr.BadRequest("max usage count must be positive")
	}
	return nil
}
