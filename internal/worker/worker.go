package worker

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/apperr"
	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// MessageSource is a stream of broker messages
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// PaymentCallbacks applies gateway results to payments
type PaymentCallbacks interface {
	Confirm(ctx context.Context, caller service.Caller, req *service.ConfirmPaymentRequest) (*service.ConfirmPaymentResponse, error)
	Fail(ctx context.Context, caller service.Caller, paymentID int64, reason string) error
}

// GatewayWorker consumes the payment gateway's out-of-band callbacks
type GatewayWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	payments     PaymentCallbacks
	logger       *zap.Logger
}

// NewGatewayWorker creates a new gateway callback worker
func NewGatewayWorker(consumer MessageSource, payments PaymentCallbacks) *GatewayWorker {
	w := &GatewayWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		payments:     payments,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnPaymentSucceeded(w.handlePaymentSucceeded)
	w.eventHandler.OnPaymentFailed(w.handlePaymentFailed)
	return w
}

// Start starts the worker
func (w *GatewayWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting gateway callback worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *GatewayWorker) Stop() error {
	w.logger.Info("Stopping gateway callback worker")
	return w.consumer.Close()
}

func (w *GatewayWorker) handlePaymentSucceeded(ctx context.Context, event *models.GatewayPaymentSucceededEvent) error {
	resp, err := w.payments.Confirm(ctx, callbackCaller(event.UserID), &service.ConfirmPaymentRequest{
		PaymentID:     event.PaymentID,
		TransactionID: event.TransactionID,
		PaymentToken:  event.Token,
	})
	if err != nil {
		return w.classify(event.EventID, event.PaymentID, err)
	}

	w.logger.Info("Gateway confirmed payment",
		zap.Int64("payment_id", resp.PaymentID),
		zap.Int64("order_id", resp.OrderID),
		zap.String("order_number", resp.OrderNumber))
	return nil
}

func (w *GatewayWorker) handlePaymentFailed(ctx context.Context, event *models.GatewayPaymentFailedEvent) error {
	if err := w.payments.Fail(ctx, callbackCaller(event.UserID), event.PaymentID, event.Reason); err != nil {
		return w.classify(event.EventID, event.PaymentID, err)
	}
	return nil
}

// classify decides what happens to a callback that could not be applied.
// Duplicates are acknowledged, contention and internal failures are retried,
// and anything else can never succeed and is dropped.
func (w *GatewayWorker) classify(eventID string, paymentID int64, err error) error {
	switch {
	case errors.Is(err, service.ErrPaymentNotPending):
		w.logger.Info("Duplicate gateway callback ignored",
			zap.String("event_id", eventID),
			zap.Int64("payment_id", paymentID))
		return nil
	case errors.Is(err, service.ErrPaymentBusy), apperr.KindOf(err) == apperr.KindInternal:
		return err
	default:
		return fmt.Errorf("%w: payment %d: %v", broker.ErrPermanent, paymentID, err)
	}
}

func callbackCaller(userID int64) service.Caller {
	return service.Caller{UserID: userID, Role: models.RoleCustomer}
}
