package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"checkout-service/config"
	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentService drives a payment from initiation to PAID or FAILED
type PaymentService struct {
	repo         store.Repository
	pricing      *PricingEngine
	inventory    *InventoryLedger
	materializer *OrderMaterializer
	locker       Locker
	idempotency  IdempotencyStore
	events       EventPublisher
	cfg          config.CheckoutConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	repo store.Repository,
	pricing *PricingEngine,
	inventory *InventoryLedger,
	materializer *OrderMaterializer,
	locker Locker,
	idempotency IdempotencyStore,
	events EventPublisher,
	cfg config.CheckoutConfig,
) *PaymentService {
	return &PaymentService{
		repo:         repo,
		pricing:      pricing,
		inventory:    inventory,
		materializer: materializer,
		locker:       locker,
		idempotency:  idempotency,
		events:       events,
		cfg:          cfg,
		logger:       util.GetLogger(),
		now:          time.Now,
	}
}

// AddressInput references a saved address or carries a one-off address
type AddressInput struct {
	AddressID *int64           `json:"address_id,omitempty"`
	Address   *NewAddressInput `json:"address,omitempty"`
}

// NewAddressInput is an address typed at checkout
type NewAddressInput struct {
	FullName   string `json:"full_name" binding:"required"`
	Phone      string `json:"phone" binding:"required"`
	Line1      string `json:"line1" binding:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" binding:"required"`
	District   string `json:"district,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country" binding:"required"`
}

// InitiatePaymentRequest represents a request to start checkout
type InitiatePaymentRequest struct {
	ShippingAddress AddressInput  `json:"shipping_address"`
	BillingAddress  *AddressInput `json:"billing_address,omitempty"`
	PaymentMethod   string        `json:"payment_method" binding:"required"`
	CouponCode      string        `json:"coupon_code,omitempty"`
	Note            string        `json:"note,omitempty"`
	IdempotencyKey  string        `json:"-"`
}

// InitiatePaymentResponse describes the created payment and what to do next
type InitiatePaymentResponse struct {
	PaymentID     int64           `json:"payment_id"`
	Status        string          `json:"status"`
	Method        string          `json:"method"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	GatewayName   string          `json:"gateway_name"`
	GatewayURL    string          `json:"gateway_url,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	OrderID       int64           `json:"order_id,omitempty"`
	OrderNumber   string          `json:"order_number,omitempty"`
}

// ConfirmPaymentRequest carries the gateway's success callback
type ConfirmPaymentRequest struct {
	PaymentID     int64  `json:"payment_id" binding:"required"`
	TransactionID string `json:"transaction_id" binding:"required"`
	PaymentToken  string `json:"payment_token"`
}

// ConfirmPaymentResponse reports the order created for a confirmed payment
type ConfirmPaymentResponse struct {
	PaymentID   int64  `json:"payment_id"`
	Status      string `json:"status"`
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

// PaymentView is a payment as shown to its owner
type PaymentView struct {
	models.Payment
	OrderID *int64 `json:"order_id,omitempty"`
}

// ErrPaymentNotPending is wrapped by rejections of a payment that already
// reached PAID or FAILED. Duplicate gateway callbacks end up here.
var ErrPaymentNotPending = errors.New("payment is not pending")

// ErrPaymentBusy is wrapped when another request holds the payment's lock
var ErrPaymentBusy = errors.New("payment is locked by another request")

// ExpiredPaymentReason is recorded on payments that stayed pending too long
const ExpiredPaymentReason = "payment expired"

type resolvedAddress struct {
	id     int64
	oneOff *models.Address
}

// Initiate prices the caller's selected cart lines, freezes them into a
// snapshot and creates a PENDING payment. Nothing is reserved: stock and
// coupon usage only move when the order is created. Cash on delivery skips
// the gateway and produces the order immediately.
func (s *PaymentService) Initiate(ctx context.Context, caller Caller, req *InitiatePaymentRequest) (resp *InitiatePaymentResponse, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Initiate")
	defer func() { util.EndSpan(span, err) }()

	if err := caller.requireCustomer(); err != nil {
		return nil, err
	}
	if !models.IsValidPaymentMethod(req.PaymentMethod) {
		s.reject("invalid_method")
		return nil, apperr.BadRequest(fmt.Sprintf("unsupported payment method %q", req.PaymentMethod))
	}

	idemKey := ""
	if req.IdempotencyKey != "" {
		idemKey = fmt.Sprintf("initiate:%d:%s", caller.UserID, req.IdempotencyKey)
		if replay, err := s.replayInitiate(ctx, caller, idemKey); err != nil || replay != nil {
			return replay, err
		}
	}

	lockKey := fmt.Sprintf("checkout:user:%d", caller.UserID)
	token, acquired, err := s.locker.AcquireLock(ctx, lockKey, s.cfg.LockTTL)
	if err != nil {
		return nil, apperr.Internal("failed to acquire checkout lock", err)
	}
	if !acquired {
		s.reject("concurrent_checkout")
		return nil, apperr.BadRequest("a checkout is already in progress for this cart, retry shortly")
	}
	defer s.holdLock(lockKey, token)()

	cart, err := s.repo.GetActiveCart(ctx, caller.UserID)
	if errors.Is(err, store.ErrNotFound) {
		s.reject("empty_cart")
		return nil, apperr.BadRequest("your cart is empty")
	}
	if err != nil {
		return nil, apperr.Internal("failed to load cart", err)
	}

	lines, err := s.repo.ListCartLines(ctx, cart.ID)
	if err != nil {
		return nil, apperr.Internal("failed to load cart lines", err)
	}
	if len(selectedLines(lines)) == 0 {
		s.reject("empty_cart")
		return nil, apperr.BadRequest("no cart lines are selected for checkout")
	}

	breakdown, err := s.pricing.Price(ctx, s.repo, lines, req.CouponCode)
	if err != nil {
		s.reject("pricing")
		return nil, err
	}
	if err := s.checkStock(breakdown); err != nil {
		s.reject("stock")
		return nil, err
	}

	shipping, err := s.resolveAddress(ctx, caller, &req.ShippingAddress, "shipping")
	if err != nil {
		s.reject("address")
		return nil, err
	}
	billing := shipping
	if req.BillingAddress != nil {
		billing, err = s.resolveAddress(ctx, caller, req.BillingAddress, "billing")
		if err != nil {
			s.reject("address")
			return nil, err
		}
	}

	now := s.now()
	snapshot, err := breakdown.Snapshot(cart.ID, strings.TrimSpace(req.Note), now).Marshal()
	if err != nil {
		return nil, apperr.Internal("failed to encode cart snapshot", err)
	}

	payment := &models.Payment{
		UserID:       caller.UserID,
		Method:       req.PaymentMethod,
		Status:       models.PaymentStatusPending,
		Amount:       breakdown.TotalAmount,
		Currency:     breakdown.Currency,
		CartSnapshot: snapshot,
	}
	s.applyGateway(payment)

	err = s.repo.WithTx(ctx, func(q store.Querier) error {
		shippingID, err := persistAddress(ctx, q, shipping)
		if err != nil {
			return err
		}
		billingID := shippingID
		if billing != shipping {
			if billingID, err = persistAddress(ctx, q, billing); err != nil {
				return err
			}
		}
		payment.ShippingAddressID = shippingID
		payment.BillingAddressID = billingID
		return q.CreatePayment(ctx, payment)
	})
	if err != nil {
		return nil, apperr.Internal("failed to create payment", err)
	}

	util.PaymentsInitiatedTotal.WithLabelValues(payment.Method).Inc()
	util.LoggerFromContext(ctx).Info("Payment initiated",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("user_id", caller.UserID),
		zap.String("method", payment.Method),
		zap.String("amount", payment.Amount.String()),
		zap.String("coupon", breakdown.CouponCode))

	s.publishInitiated(ctx, payment)

	resp = initiateResponse(payment)
	if payment.Method == models.PaymentMethodCashOnDelivery {
		order, err := s.complete(ctx, payment, "")
		if err != nil {
			return nil, err
		}
		resp.Status = models.PaymentStatusPaid
		resp.OrderID = order.ID
		resp.OrderNumber = order.OrderNumber
	}

	if idemKey != "" {
		if err := s.idempotency.SetIdempotencyKey(ctx, idemKey, payment.ID, s.cfg.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to store idempotency key", zap.String("key", idemKey), zap.Error(err))
		}
	}

	return resp, nil
}

// Confirm applies the gateway's success callback. The payment moves to PAID
// exactly once and its order is created from the snapshot.
func (s *PaymentService) Confirm(ctx context.Context, caller Caller, req *ConfirmPaymentRequest) (resp *ConfirmPaymentResponse, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Confirm")
	defer func() { util.EndSpan(span, err) }()

	if err := caller.requireUser(); err != nil {
		return nil, err
	}

	release, err := s.lockPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	defer release()

	payment, err := s.ownedPayment(ctx, caller, req.PaymentID, false)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusPending {
		return nil, notPending(payment.ID, payment.Status)
	}
	if payment.TransactionID == "" ||
		subtle.ConstantTimeCompare([]byte(payment.TransactionID), []byte(req.TransactionID)) != 1 {
		return nil, apperr.BadRequest("transaction id does not match this payment")
	}

	order, err := s.complete(ctx, payment, req.PaymentToken)
	if err != nil {
		return nil, err
	}

	return &ConfirmPaymentResponse{
		PaymentID:   payment.ID,
		Status:      models.PaymentStatusPaid,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
	}, nil
}

// Fail applies the gateway's failure callback. No order is created.
func (s *PaymentService) Fail(ctx context.Context, caller Caller, paymentID int64, reason string) (err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Fail")
	defer func() { util.EndSpan(span, err) }()

	if err := caller.requireUser(); err != nil {
		return err
	}

	release, err := s.lockPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	defer release()

	payment, err := s.ownedPayment(ctx, caller, paymentID, false)
	if err != nil {
		return err
	}
	if payment.Status != models.PaymentStatusPending {
		return notPending(payment.ID, payment.Status)
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "payment declined"
	}

	ok, err := s.repo.MarkPaymentFailed(ctx, payment.ID, reason, s.now())
	if err != nil {
		return apperr.Internal("failed to mark payment failed", err)
	}
	if !ok {
		return notPending(payment.ID, "")
	}

	util.PaymentsFailedTotal.WithLabelValues(failureLabel(reason)).Inc()
	util.LoggerFromContext(ctx).Info("Payment failed",
		zap.Int64("payment_id", payment.ID),
		zap.String("reason", reason))

	event := &models.PaymentFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentFailed, s.now()),
		PaymentID: payment.ID,
		UserID:    payment.UserID,
		Reason:    reason,
	}
	if err := s.events.PublishPaymentFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish payment failed event", zap.Int64("payment_id", payment.ID), zap.Error(err))
	}
	return nil
}

// GetPayment returns one of the caller's payments
func (s *PaymentService) GetPayment(ctx context.Context, caller Caller, paymentID int64) (*PaymentView, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.GetPayment")
	defer span.End()

	if err := caller.requireUser(); err != nil {
		return nil, err
	}

	payment, err := s.ownedPayment(ctx, caller, paymentID, true)
	if err != nil {
		return nil, err
	}

	view := &PaymentView{Payment: *payment}
	if payment.OrderID.Valid {
		id := payment.OrderID.Int64
		view.OrderID = &id
	}
	return view, nil
}

// StalePendingPayments lists payments that stayed PENDING past the configured TTL
func (s *PaymentService) StalePendingPayments(ctx context.Context, limit int) ([]models.Payment, error) {
	cutoff := s.now().Add(-s.cfg.PendingPaymentTTL)
	return s.repo.ListStalePendingPayments(ctx, cutoff, limit)
}

// UnmaterializedPayments lists PAID payments that have no order
func (s *PaymentService) UnmaterializedPayments(ctx context.Context, limit int) ([]models.Payment, error) {
	return s.repo.ListUnmaterializedPayments(ctx, limit)
}

// RetryMaterialization re-runs order creation for a paid payment left without an order
func (s *PaymentService) RetryMaterialization(ctx context.Context, paymentID int64) (*models.Order, error) {
	release, err := s.lockPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.materializer.Materialize(ctx, paymentID)
}

// complete moves a pending payment to PAID, then creates its order. The status
// change commits on its own: if order creation fails the payment stays PAID
// without an order and is picked up again by the reconciler.
func (s *PaymentService) complete(ctx context.Context, payment *models.Payment, token string) (*models.Order, error) {
	ok, err := s.repo.MarkPaymentPaid(ctx, payment.ID, token, s.now())
	if err != nil {
		return nil, apperr.Internal("failed to mark payment paid", err)
	}
	if !ok {
		return nil, notPending(payment.ID, "")
	}

	util.PaymentsPaidTotal.WithLabelValues(payment.Method).Inc()
	util.LoggerFromContext(ctx).Info("Payment paid",
		zap.Int64("payment_id", payment.ID),
		zap.String("transaction_id", payment.TransactionID))

	event := &models.PaymentCompletedEvent{
		BaseEvent:     newBaseEvent(models.EventTypePaymentCompleted, s.now()),
		PaymentID:     payment.ID,
		UserID:        payment.UserID,
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
	}
	if err := s.events.PublishPaymentCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish payment completed event", zap.Int64("payment_id", payment.ID), zap.Error(err))
	}

	return s.materializer.Materialize(ctx, payment.ID)
}

func (s *PaymentService) lockPayment(ctx context.Context, paymentID int64) (func(), error) {
	key := fmt.Sprintf("payment:%d", paymentID)
	token, acquired, err := s.locker.AcquireLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return nil, apperr.Internal("failed to acquire payment lock", err)
	}
	if !acquired {
		return nil, &apperr.Error{
			Kind:    apperr.KindBadRequest,
			Message: fmt.Sprintf("payment %d is being processed, retry shortly", paymentID),
			Err:     ErrPaymentBusy,
		}
	}
	return s.holdLock(key, token), nil
}

// holdLock keeps a lock alive by extending it every third of its TTL, so a
// slow materialization cannot outlive it. The returned func stops the
// renewal and releases the lock.
func (s *PaymentService) holdLock(key, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	interval := s.cfg.LockTTL / 3

	go func() {
		defer close(done)
		if interval <= 0 {
			<-stop
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ok, err := s.locker.ExtendLock(context.Background(), key, token, s.cfg.LockTTL)
				if err != nil {
					s.logger.Warn("Failed to extend lock", zap.String("key", key), zap.Error(err))
					continue
				}
				if !ok {
					s.logger.Warn("Lock lost before work finished", zap.String("key", key))
					return
				}
			}
		}
	}()

	return func() {
		close(stop)
		<-done
		if err := s.locker.ReleaseLock(context.Background(), key, token); err != nil {
			s.logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}
}

// ownedPayment loads a payment the caller owns. Admins may read any payment
// but only its owner can move it through the state machine.
func (s *PaymentService) ownedPayment(ctx context.Context, caller Caller, paymentID int64, adminMayRead bool) (*models.Payment, error) {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(fmt.Sprintf("payment %d not found", paymentID))
	}
	if err != nil {
		return nil, apperr.Internal("failed to load payment", err)
	}
	if payment.UserID != caller.UserID && !(adminMayRead && caller.IsAdmin()) {
		return nil, apperr.Forbidden("payment belongs to another user")
	}
	return payment, nil
}

func (s *PaymentService) replayInitiate(ctx context.Context, caller Caller, key string) (*InitiatePaymentResponse, error) {
	value, found, err := s.idempotency.GetIdempotencyKey(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed, processing request", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	if !found {
		return nil, nil
	}

	paymentID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, nil
	}
	payment, err := s.ownedPayment(ctx, caller, paymentID, false)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Duplicate initiate request detected",
		zap.String("key", key),
		zap.Int64("payment_id", payment.ID))

	resp := initiateResponse(payment)
	if payment.OrderID.Valid {
		if order, err := s.repo.GetOrder(ctx, payment.OrderID.Int64); err == nil {
			resp.OrderID = order.ID
			resp.OrderNumber = order.OrderNumber
		}
	}
	return resp, nil
}

func (s *PaymentService) checkStock(b *PriceBreakdown) error {
	wanted := make(map[int64]int, len(b.Lines))
	for _, pl := range b.Lines {
		wanted[pl.Listing.ID] += pl.Line.Quantity
	}
	for _, pl := range b.Lines {
		listing := pl.Listing
		if err := s.inventory.CheckAvailable(&listing, wanted[listing.ID]); err != nil {
			return err
		}
	}
	return nil
}

// resolveAddress validates an address choice without writing. One-off
// addresses are stored together with the payment.
func (s *PaymentService) resolveAddress(ctx context.Context, caller Caller, in *AddressInput, kind string) (*resolvedAddress, error) {
	switch {
	case in.AddressID != nil:
		addr, err := s.repo.GetAddress(ctx, *in.AddressID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && addr.UserID != caller.UserID) {
			return nil, apperr.BadRequest(fmt.Sprintf("%s address %d is not one of your addresses", kind, *in.AddressID))
		}
		if err != nil {
			return nil, apperr.Internal("failed to load address", err)
		}
		return &resolvedAddress{id: addr.ID}, nil
	case in.Address != nil:
		a := in.Address
		if strings.TrimSpace(a.FullName) == "" || strings.TrimSpace(a.Line1) == "" ||
			strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.Country) == "" {
			return nil, apperr.BadRequest(fmt.Sprintf("%s address is incomplete", kind))
		}
		return &resolvedAddress{oneOff: &models.Address{
			UserID:     caller.UserID,
			FullName:   a.FullName,
			Phone:      a.Phone,
			Line1:      a.Line1,
			Line2:      a.Line2,
			City:       a.City,
			District:   a.District,
			PostalCode: a.PostalCode,
			Country:    a.Country,
			IsOneOff:   true,
		}}, nil
	default:
		return nil, apperr.BadRequest(fmt.Sprintf("%s address is required", kind))
	}
}

func persistAddress(ctx context.Context, q store.Querier, a *resolvedAddress) (int64, error) {
	if a.oneOff == nil {
		return a.id, nil
	}
	if err := q.CreateAddress(ctx, a.oneOff); err != nil {
		return 0, fmt.Errorf("failed to store address: %w", err)
	}
	return a.oneOff.ID, nil
}

// applyGateway fills in how the customer pays. Card-like methods go through
// the hosted gateway page, bank transfers get a reference to quote, and cash
// on delivery needs no gateway at all.
func (s *PaymentService) applyGateway(p *models.Payment) {
	switch p.Method {
	case models.PaymentMethodBankTransfer:
		p.GatewayName = "BankTransfer"
		p.TransactionID = "BT-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:12])
	case models.PaymentMethodCashOnDelivery:
		p.GatewayName = "CashOnDelivery"
		p.TransactionID = "COD-" + uuid.New().String()
	default:
		p.GatewayName = s.cfg.GatewayName
		p.TransactionID = "TXN-" + uuid.New().String()
		p.GatewayURL = strings.TrimRight(s.cfg.GatewayBaseURL, "/") + "/" + p.TransactionID
	}
}

func (s *PaymentService) publishInitiated(ctx context.Context, p *models.Payment) {
	event := &models.PaymentInitiatedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentInitiated, s.now()),
		PaymentID: p.ID,
		UserID:    p.UserID,
		Method:    p.Method,
		Amount:    p.Amount,
		Currency:  p.Currency,
	}
	if err := s.events.PublishPaymentInitiated(ctx, event); err != nil {
		s.logger.Error("Failed to publish payment initiated event", zap.Int64("payment_id", p.ID), zap.Error(err))
	}
}

func notPending(paymentID int64, status string) error {
	msg := fmt.Sprintf("payment %d is no longer pending", paymentID)
	if status != "" {
		msg = fmt.Sprintf("payment %d is %s, not pending", paymentID, status)
	}
	return &apperr.Error{Kind: apperr.KindBadRequest, Message: msg, Err: ErrPaymentNotPending}
}

func (s *PaymentService) reject(reason string) {
	util.CheckoutRejectedTotal.WithLabelValues(reason).Inc()
}

func initiateResponse(p *models.Payment) *InitiatePaymentResponse {
	return &InitiatePaymentResponse{
		PaymentID:     p.ID,
		Status:        p.Status,
		Method:        p.Method,
		Amount:        p.Amount,
		Currency:      p.Currency,
		GatewayName:   p.GatewayName,
		GatewayURL:    p.GatewayURL,
		TransactionID: p.TransactionID,
	}
}

// failureLabel keeps the metric label set small
func failureLabel(reason string) string {
	switch {
	case reason == ExpiredPaymentReason:
		return "expired"
	case strings.Contains(strings.ToLower(reason), "declin"):
		return "declined"
	default:
		return "other"
	}
}
