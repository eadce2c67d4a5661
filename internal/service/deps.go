package service

import (
	"context"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/google/uuid"
)

// Locker serialises work on a key across service instances
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
	ExtendLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}

// IdempotencyStore remembers the result of a request for replay
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// EventPublisher publishes checkout events after their writes commit
type EventPublisher interface {
	PublishPaymentInitiated(ctx context.Context, event *models.PaymentInitiatedEvent) error
	PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// Caller is the authenticated identity forwarded by the gateway
type Caller struct {
	UserID int64
	Role   string
}

func (c Caller) IsSeller() bool { return c.Role == models.RoleSeller }
func (c Caller) IsAdmin() bool  { return c.Role == models.RoleAdmin }

func (c Caller) requireUser() error {
	if c.UserID <= 0 {
		return apperr.Unauthorized("authentication required")
	}
	return nil
}

// requireCustomer rejects anonymous callers and sellers, who cannot purchase
func (c Caller) requireCustomer() error {
	if err := c.requireUser(); err != nil {
		return err
	}
	if c.IsSeller() {
		return apperr.Forbidden("sellers cannot make purchases")
	}
	return nil
}

func newBaseEvent(eventType string, now time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: now,
	}
}
