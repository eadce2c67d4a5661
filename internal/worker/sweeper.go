package worker

import (
	"context"
	"errors"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

const sweepBatchSize = 100

// PaymentMaintenance is what the sweeper needs from the payment service
type PaymentMaintenance interface {
	StalePendingPayments(ctx context.Context, limit int) ([]models.Payment, error)
	UnmaterializedPayments(ctx context.Context, limit int) ([]models.Payment, error)
	Fail(ctx context.Context, caller service.Caller, paymentID int64, reason string) error
	RetryMaterialization(ctx context.Context, paymentID int64) (*models.Order, error)
}

// Sweeper periodically fails payments left pending past their TTL and retries
// order creation for payments that were paid but never got an order.
type Sweeper struct {
	payments PaymentMaintenance
	interval time.Duration
	logger   *zap.Logger
}

// DefaultSweepInterval replaces a non-positive sweep interval
const DefaultSweepInterval = time.Minute

// NewSweeper creates a new payment sweeper
func NewSweeper(payments PaymentMaintenance, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		payments: payments,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs a sweep every interval until ctx is cancelled
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting payment sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Payment sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and reports how many payments it expired
// and how many orders it recovered.
func (s *Sweeper) RunOnce(ctx context.Context) (expired, reconciled int) {
	ctx, span := util.StartSpan(ctx, "Sweeper.RunOnce")
	defer span.End()

	return s.expireStale(ctx), s.reconcile(ctx)
}

func (s *Sweeper) expireStale(ctx context.Context) int {
	stale, err := s.payments.StalePendingPayments(ctx, sweepBatchSize)
	if err != nil {
		s.logger.Error("Failed to list stale payments", zap.Error(err))
		return 0
	}

	expired := 0
	for _, p := range stale {
		err := s.payments.Fail(ctx, callbackCaller(p.UserID), p.ID, service.ExpiredPaymentReason)
		if errors.Is(err, service.ErrPaymentNotPending) || errors.Is(err, service.ErrPaymentBusy) {
			continue
		}
		if err != nil {
			s.logger.Error("Failed to expire payment", zap.Int64("payment_id", p.ID), zap.Error(err))
			continue
		}
		util.StalePaymentsExpiredTotal.Inc()
		expired++
	}

	if expired > 0 {
		s.logger.Info("Expired stale payments", zap.Int("count", expired))
	}
	return expired
}

func (s *Sweeper) reconcile(ctx context.Context) int {
	orphans, err := s.payments.UnmaterializedPayments(ctx, sweepBatchSize)
	if err != nil {
		s.logger.Error("Failed to list paid payments without orders", zap.Error(err))
		return 0
	}

	recovered := 0
	for _, p := range orphans {
		order, err := s.payments.RetryMaterialization(ctx, p.ID)
		if err != nil {
			s.logger.Warn("Order still cannot be created for paid payment",
				zap.Int64("payment_id", p.ID),
				zap.Error(err))
			continue
		}
		s.logger.Info("Recovered order for paid payment",
			zap.Int64("payment_id", p.ID),
			zap.Int64("order_id", order.ID))
		recovered++
	}
	return recovered
}
