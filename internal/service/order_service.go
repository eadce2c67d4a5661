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

	"go.uber.org/zap"
)

// nextStatus is the forward-only fulfillment graph. CANCELLED is reached
// only through Cancel, which also returns stock.
var nextStatus = map[string]string{
	models.OrderStatusAwaitingPayment: models.OrderStatusProcessing,
	models.OrderStatusProcessing:      models.OrderStatusShipped,
	models.OrderStatusShipped:         models.OrderStatusDelivered,
}

// OrderService handles order lifecycle after creation
type OrderService struct {
	repo      store.Repository
	inventory *InventoryLedger
	events    EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(repo store.Repository, inventory *InventoryLedger, events EventPublisher) *OrderService {
	return &OrderService{
		repo:      repo,
		inventory: inventory,
		events:    events,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// UpdateOrderStatusRequest represents a fulfillment transition
type UpdateOrderStatusRequest struct {
	Status           string `json:"new_status" binding:"required"`
	TrackingNumber   string `json:"tracking_number,omitempty"`
	ShippingProvider string `json:"shipping_provider,omitempty"`
}

// OrderDetails is an order with its items
type OrderDetails struct {
	models.Order
	Items []models.OrderItem `json:"items"`
}

// UpdateStatus moves an order one step along its fulfillment path. Admins may
// update any order, sellers only orders containing one of their lines.
func (s *OrderService) UpdateStatus(ctx context.Context, caller Caller, orderID int64, req *UpdateOrderStatusRequest) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer func() { util.EndSpan(span, err) }()

	if err := caller.requireUser(); err != nil {
		return nil, err
	}

	newStatus := strings.ToUpper(strings.TrimSpace(req.Status))
	switch newStatus {
	case models.OrderStatusCancelled:
		return nil, apperr.BadRequest("orders are cancelled through the cancel operation")
	case models.OrderStatusProcessing, models.OrderStatusShipped, models.OrderStatusDelivered:
	default:
		return nil, apperr.BadRequest(fmt.Sprintf("unknown order status %q", req.Status))
	}

	tracking := strings.TrimSpace(req.TrackingNumber)
	provider := strings.TrimSpace(req.ShippingProvider)
	if newStatus == models.OrderStatusShipped && (tracking == "" || provider == "") {
		return nil, apperr.BadRequest("tracking number and shipping provider are required to ship an order")
	}

	var oldStatus string
	err = s.repo.WithTx(ctx, func(q store.Querier) error {
		o, err := q.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		items, err := q.ListOrderItems(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to load order items: %w", err)
		}

		sellerID, err := s.authorizeFulfillment(ctx, q, caller, items)
		if err != nil {
			return err
		}

		if o.Status == models.OrderStatusCancelled {
			return apperr.BadRequest(fmt.Sprintf("order %s is cancelled", o.OrderNumber))
		}
		if nextStatus[o.Status] != newStatus {
			return apperr.BadRequest(fmt.Sprintf("order %s cannot move from %s to %s", o.OrderNumber, o.Status, newStatus))
		}

		oldStatus = o.Status
		o.Status = newStatus
		now := sql.NullTime{Time: s.now(), Valid: true}
		switch newStatus {
		case models.OrderStatusProcessing:
			if !o.ProcessedAt.Valid {
				o.ProcessedAt = now
			}
		case models.OrderStatusShipped:
			o.TrackingNumber = tracking
			o.ShippingProvider = provider
			if !o.ShippedAt.Valid {
				o.ShippedAt = now
			}
			if sellerID != 0 {
				if err := q.SetItemsTracking(ctx, o.ID, sellerID, tracking); err != nil {
					return fmt.Errorf("failed to stamp tracking on items: %w", err)
				}
			}
		case models.OrderStatusDelivered:
			if !o.DeliveredAt.Valid {
				o.DeliveredAt = now
			}
		}

		if err := q.UpdateOrderFulfillment(ctx, o); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, orderError(err, orderID, "failed to update order status")
	}

	util.OrderStatusTransitions.WithLabelValues(order.Status).Inc()
	s.logger.Info("Order status updated",
		zap.Int64("order_id", order.ID),
		zap.String("from", oldStatus),
		zap.String("to", order.Status),
		zap.Int64("by_user", caller.UserID))

	event := &models.OrderStatusChangedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeOrderStatusChanged, s.now()),
		OrderID:        order.ID,
		OldStatus:      oldStatus,
		NewStatus:      order.Status,
		TrackingNumber: order.TrackingNumber,
	}
	if err := s.events.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish order status event", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	return order, nil
}

// Cancel cancels one of the caller's orders before it ships and returns its stock
func (s *OrderService) Cancel(ctx context.Context, caller Caller, orderID int64) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer func() { util.EndSpan(span, err) }()

	if err := caller.requireUser(); err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(q store.Querier) error {
		o, err := q.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != caller.UserID {
			return apperr.Forbidden("order belongs to another user")
		}
		if o.Status != models.OrderStatusAwaitingPayment && o.Status != models.OrderStatusProcessing {
			return apperr.BadRequest(fmt.Sprintf("order %s is %s and can no longer be cancelled", o.OrderNumber, o.Status))
		}

		items, err := q.ListOrderItems(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to load order items: %w", err)
		}
		for _, item := range items {
			if err := s.inventory.Restore(ctx, q, item.ListingID, item.Quantity); err != nil {
				return err
			}
		}

		o.Status = models.OrderStatusCancelled
		o.CancelledAt = sql.NullTime{Time: s.now(), Valid: true}
		if err := q.UpdateOrderFulfillment(ctx, o); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, orderError(err, orderID, "failed to cancel order")
	}

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", caller.UserID))

	event := &models.OrderCancelledEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCancelled, s.now()),
		OrderID:   order.ID,
		UserID:    order.UserID,
	}
	if err := s.events.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish order cancelled event", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	return order, nil
}

// GetOrder returns an order to its buyer, an admin, or a seller with a line in it
func (s *OrderService) GetOrder(ctx context.Context, caller Caller, orderID int64) (*OrderDetails, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	if err := caller.requireUser(); err != nil {
		return nil, err
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, orderError(err, orderID, "failed to load order")
	}
	items, err := s.repo.ListOrderItems(ctx, orderID)
	if err != nil {
		return nil, apperr.Internal("failed to load order items", err)
	}

	if order.UserID != caller.UserID {
		if _, err := s.authorizeFulfillment(ctx, s.repo, caller, items); err != nil {
			return nil, err
		}
	}

	return &OrderDetails{Order: *order, Items: items}, nil
}

// ListOrders returns the caller's own orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, caller Caller) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	if err := caller.requireUser(); err != nil {
		return nil, err
	}

	orders, err := s.repo.ListOrdersByUser(ctx, caller.UserID)
	if err != nil {
		return nil, apperr.Internal("failed to list orders", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

// authorizeFulfillment checks the caller may act on an order as its seller or
// as an admin. For sellers it returns their seller id, for admins zero.
func (s *OrderService) authorizeFulfillment(ctx context.Context, q store.Querier, caller Caller, items []models.OrderItem) (int64, error) {
	if caller.IsAdmin() {
		return 0, nil
	}
	if !caller.IsSeller() {
		return 0, apperr.Forbidden("only the seller or an admin can manage this order")
	}

	sellerID, err := q.GetSellerIDByUserID(ctx, caller.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, apperr.Forbidden("no seller profile for this account")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve seller: %w", err)
	}

	for _, item := range items {
		if item.SellerID == sellerID {
			return sellerID, nil
		}
	}
	return 0, apperr.Forbidden("order has no items from your store")
}

func orderError(err error, orderID int64, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(fmt.Sprintf("order %d not found", orderID))
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Internal(msg, err)
}
