package service

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// InventoryLedger owns listing stock movements
type InventoryLedger struct {
	logger *zap.Logger
}

// NewInventoryLedger creates a new inventory ledger
func NewInventoryLedger() *InventoryLedger {
	return &InventoryLedger{logger: util.GetLogger()}
}

// CheckAvailable verifies a listing can be bought in the given quantity. It
// reserves nothing; the conditional decrement at order time is authoritative.
func (il *InventoryLedger) CheckAvailable(listing *models.Listing, quantity int) error {
	if !listing.IsActive {
		return apperr.BadRequest(fmt.Sprintf("%s is no longer available", listing.ProductName))
	}
	if listing.Stock < quantity {
		return apperr.BadRequest(fmt.Sprintf(
			"insufficient stock for %s: %d available, %d requested; refresh your cart and retry",
			listing.ProductName, listing.Stock, quantity))
	}
	return nil
}

// Decrement removes stock for a sold line. It fails without writing when the
// listing no longer has enough stock.
func (il *InventoryLedger) Decrement(ctx context.Context, q store.Querier, listingID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Decrement")
	defer span.End()

	err := q.DecrementStock(ctx, listingID, quantity)
	if errors.Is(err, store.ErrInsufficientStock) {
		util.StockConflictsTotal.Inc()
		il.logger.Warn("Stock ran out before order creation",
			zap.Int64("listing_id", listingID),
			zap.Int("quantity", quantity))
		return &apperr.Error{
			Kind:    apperr.KindBadRequest,
			Message: fmt.Sprintf("listing %d sold out while you were checking out; refresh your cart and retry", listingID),
			Err:     err,
		}
	}
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	return nil
}

// Restore returns stock for a cancelled line
func (il *InventoryLedger) Restore(ctx context.Context, q store.Querier, listingID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Restore")
	defer span.End()

	if err := q.RestoreStock(ctx, listingID, quantity); err != nil {
		return fmt.Errorf("failed to restore stock for listing %d: %w", listingID, err)
	}

	il.logger.Debug("Stock restored",
		zap.Int64("listing_id", listingID),
		zap.Int("quantity", quantity))
	return nil
}
