package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type eventWriter interface {
	PublishEvent(ctx context.Context, key, eventType string, event interface{}) error
}

// EventPublisher handles publishing checkout domain events
type EventPublisher struct {
	producer eventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer eventWriter) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func paymentKey(id int64) string { return fmt.Sprintf("payment-%d", id) }
func orderKey(id int64) string   { return fmt.Sprintf("order-%d", id) }

// PublishPaymentInitiated publishes PaymentInitiated event
func (ep *EventPublisher) PublishPaymentInitiated(ctx context.Context, event *models.PaymentInitiatedEvent) error {
	return ep.producer.PublishEvent(ctx, paymentKey(event.PaymentID), event.EventType, event)
}

// PublishPaymentCompleted publishes PaymentCompleted event
func (ep *EventPublisher) PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, paymentKey(event.PaymentID), event.EventType, event)
}

// PublishPaymentFailed publishes PaymentFailed event
func (ep *EventPublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	return ep.producer.PublishEvent(ctx, paymentKey(event.PaymentID), event.EventType, event)
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishOrderCancelled publishes OrderCancelled event
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// EventHandler routes inbound payment gateway callbacks
type EventHandler struct {
	onPaymentSucceeded func(context.Context, *models.GatewayPaymentSucceededEvent) error
	onPaymentFailed    func(context.Context, *models.GatewayPaymentFailedEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentSucceeded registers a handler for gateway success callbacks
func (eh *EventHandler) OnPaymentSucceeded(handler func(context.Context, *models.GatewayPaymentSucceededEvent) error) {
	eh.onPaymentSucceeded = handler
}

// OnPaymentFailed registers a handler for gateway failure callbacks
func (eh *EventHandler) OnPaymentFailed(handler func(context.Context, *models.GatewayPaymentFailedEvent) error) {
	eh.onPaymentFailed = handler
}

// HandleMessage routes messages to appropriate handlers. Undecodable payloads
// are reported as ErrPermanent.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: failed to unmarshal base event: %v", ErrPermanent, err)
	}

	eh.logger.Info("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeGatewayPaymentSucceeded:
		if eh.onPaymentSucceeded != nil {
			var event models.GatewayPaymentSucceededEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: failed to unmarshal %s: %v", ErrPermanent, baseEvent.EventType, err)
			}
			return eh.onPaymentSucceeded(ctx, &event)
		}

	case models.EventTypeGatewayPaymentFailed:
		if eh.onPaymentFailed != nil {
			var event models.GatewayPaymentFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: failed to unmarshal %s: %v", ErrPermanent, baseEvent.EventType, err)
			}
			return eh.onPaymentFailed(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
