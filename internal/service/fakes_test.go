package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
)

type memData struct {
	nextID    int64
	listings  map[int64]models.Listing
	sellers   map[int64]int64 // user id -> seller id
	carts     map[int64]models.Cart
	lines     map[int64]models.CartLine
	coupons   map[int64]models.Coupon
	addresses map[int64]models.Address
	payments  map[int64]models.Payment
	orders    map[int64]models.Order
	items     map[int64]models.OrderItem
}

func newMemData() *memData {
	return &memData{
		nextID:    1000,
		listings:  map[int64]models.Listing{},
		sellers:   map[int64]int64{},
		carts:     map[int64]models.Cart{},
		lines:     map[int64]models.CartLine{},
		coupons:   map[int64]models.Coupon{},
		addresses: map[int64]models.Address{},
		payments:  map[int64]models.Payment{},
		orders:    map[int64]models.Order{},
		items:     map[int64]models.OrderItem{},
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	c.nextID = d.nextID
	for k, v := range d.listings {
		c.listings[k] = v
	}
	for k, v := range d.sellers {
		c.sellers[k] = v
	}
	for k, v := range d.carts {
		c.carts[k] = v
	}
	for k, v := range d.lines {
		c.lines[k] = v
	}
	for k, v := range d.coupons {
		c.coupons[k] = v
	}
	for k, v := range d.addresses {
		c.addresses[k] = v
	}
	for k, v := range d.payments {
		v.CartSnapshot = append([]byte(nil), v.CartSnapshot...)
		c.payments[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.items {
		c.items[k] = v
	}
	return c
}

func (d *memData) id() int64 {
	d.nextID++
	return d.nextID
}

type memState struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	data   *memData
	faults map[string]error
}

// memRepo is an in-memory store.Repository. Transactions are serialised and
// roll back to a snapshot of the data when fn fails. Calls outside a
// transaction wait for any running transaction to finish.
type memRepo struct {
	st   *memState
	inTx bool
}

var _ store.Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{st: &memState{data: newMemData(), faults: map[string]error{}}}
}

func (r *memRepo) lock() func() {
	if r.inTx {
		r.st.mu.Lock()
		return r.st.mu.Unlock
	}
	r.st.txMu.Lock()
	r.st.mu.Lock()
	return func() {
		r.st.mu.Unlock()
		r.st.txMu.Unlock()
	}
}

// failOn makes the named operation return err until cleared
func (r *memRepo) failOn(op string, err error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if err == nil {
		delete(r.st.faults, op)
		return
	}
	r.st.faults[op] = err
}

func (r *memRepo) fault(op string) error { return r.st.faults[op] }

func (r *memRepo) WithTx(ctx context.Context, fn func(q store.Querier) error) error {
	r.st.txMu.Lock()
	defer r.st.txMu.Unlock()

	r.st.mu.Lock()
	saved := r.st.data.clone()
	r.st.mu.Unlock()

	if err := fn(&memRepo{st: r.st, inTx: true}); err != nil {
		r.st.mu.Lock()
		r.st.data = saved
		r.st.mu.Unlock()
		return err
	}
	return nil
}

// seeding and inspection helpers

func (r *memRepo) seedListing(l models.Listing) {
	defer r.lock()()
	r.st.data.listings[l.ID] = l
}

func (r *memRepo) seedSeller(userID, sellerID int64) {
	defer r.lock()()
	r.st.data.sellers[userID] = sellerID
}

func (r *memRepo) seedCoupon(c models.Coupon) {
	defer r.lock()()
	c.Code = strings.ToUpper(c.Code)
	r.st.data.coupons[c.ID] = c
}

func (r *memRepo) seedAddress(a models.Address) {
	defer r.lock()()
	r.st.data.addresses[a.ID] = a
}

func (r *memRepo) seedPayment(p models.Payment) {
	defer r.lock()()
	r.st.data.payments[p.ID] = p
}

func (r *memRepo) setPrice(listingID int64, price string) {
	defer r.lock()()
	l := r.st.data.listings[listingID]
	l.OriginalPrice = mustDecimal(price)
	r.st.data.listings[listingID] = l
}

func (r *memRepo) stock(listingID int64) int {
	defer r.lock()()
	return r.st.data.listings[listingID].Stock
}

func (r *memRepo) couponUsage(id int64) int64 {
	defer r.lock()()
	return r.st.data.coupons[id].CurrentUsageCount
}

func (r *memRepo) orderCount() int {
	defer r.lock()()
	return len(r.st.data.orders)
}

func (r *memRepo) payment(id int64) models.Payment {
	defer r.lock()()
	return r.st.data.payments[id]
}

// catalog

func (r *memRepo) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	defer r.lock()()
	l, ok := r.st.data.listings[id]
	if !ok {
		return nil, fmt.Errorf("listing %d: %w", id, store.ErrNotFound)
	}
	return &l, nil
}

func (r *memRepo) GetListingsByIDs(ctx context.Context, ids []int64) ([]models.Listing, error) {
	defer r.lock()()
	if err := r.fault("GetListingsByIDs"); err != nil {
		return nil, err
	}
	out := []models.Listing{}
	seen := map[int64]bool{}
	for _, id := range ids {
		if l, ok := r.st.data.listings[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memRepo) GetSellerIDByUserID(ctx context.Context, userID int64) (int64, error) {
	defer r.lock()()
	id, ok := r.st.data.sellers[userID]
	if !ok {
		return 0, fmt.Errorf("seller for user %d: %w", userID, store.ErrNotFound)
	}
	return id, nil
}

// inventory

func (r *memRepo) DecrementStock(ctx context.Context, listingID int64, quantity int) error {
	defer r.lock()()
	l, ok := r.st.data.listings[listingID]
	if !ok || l.Stock < quantity {
		return fmt.Errorf("listing %d: %w", listingID, store.ErrInsufficientStock)
	}
	l.Stock -= quantity
	r.st.data.listings[listingID] = l
	return nil
}

func (r *memRepo) RestoreStock(ctx context.Context, listingID int64, quantity int) error {
	defer r.lock()()
	l := r.st.data.listings[listingID]
	l.Stock += quantity
	r.st.data.listings[listingID] = l
	return nil
}

// carts

func (r *memRepo) GetActiveCart(ctx context.Context, userID int64) (*models.Cart, error) {
	defer r.lock()()
	return r.activeCartLocked(userID)
}

func (r *memRepo) activeCartLocked(userID int64) (*models.Cart, error) {
	for _, c := range r.st.data.carts {
		if c.UserID == userID && c.IsActive {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("active cart for user %d: %w", userID, store.ErrNotFound)
}

func (r *memRepo) CreateActiveCart(ctx context.Context, userID int64) (*models.Cart, error) {
	defer r.lock()()
	if c, err := r.activeCartLocked(userID); err == nil {
		return c, nil
	}
	c := models.Cart{ID: r.st.data.id(), UserID: userID, IsActive: true, CreatedAt: time.Now()}
	r.st.data.carts[c.ID] = c
	return &c, nil
}

func (r *memRepo) DeactivateCart(ctx context.Context, cartID int64) error {
	defer r.lock()()
	c := r.st.data.carts[cartID]
	c.IsActive = false
	r.st.data.carts[cartID] = c
	return nil
}

func (r *memRepo) ListCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	defer r.lock()()
	out := []models.CartLine{}
	for _, l := range r.st.data.lines {
		if l.CartID == cartID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) GetCartLine(ctx context.Context, lineID int64) (*models.CartLine, error) {
	defer r.lock()()
	l, ok := r.st.data.lines[lineID]
	if !ok {
		return nil, fmt.Errorf("cart line %d: %w", lineID, store.ErrNotFound)
	}
	return &l, nil
}

func (r *memRepo) AddCartLine(ctx context.Context, line *models.CartLine) error {
	defer r.lock()()
	for id, l := range r.st.data.lines {
		if l.CartID == line.CartID && l.ListingID == line.ListingID && l.Variant == line.Variant {
			l.Quantity += line.Quantity
			l.UnitPrice = line.UnitPrice
			l.IsSelected = true
			r.st.data.lines[id] = l
			*line = l
			return nil
		}
	}
	line.ID = r.st.data.id()
	line.IsSelected = true
	r.st.data.lines[line.ID] = *line
	return nil
}

func (r *memRepo) UpdateCartLine(ctx context.Context, line *models.CartLine) error {
	defer r.lock()()
	l := r.st.data.lines[line.ID]
	l.Quantity = line.Quantity
	l.IsSelected = line.IsSelected
	r.st.data.lines[line.ID] = l
	return nil
}

func (r *memRepo) DeleteCartLines(ctx context.Context, cartID int64, lineIDs []int64) error {
	defer r.lock()()
	for _, id := range lineIDs {
		if l, ok := r.st.data.lines[id]; ok && l.CartID == cartID {
			delete(r.st.data.lines, id)
		}
	}
	return nil
}

func (r *memRepo) CountCartLines(ctx context.Context, cartID int64) (int, error) {
	defer r.lock()()
	n := 0
	for _, l := range r.st.data.lines {
		if l.CartID == cartID {
			n++
		}
	}
	return n, nil
}

// coupons

func (r *memRepo) GetActiveCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	c, err := r.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, fmt.Errorf("coupon %s: %w", code, store.ErrNotFound)
	}
	return c, nil
}

func (r *memRepo) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	defer r.lock()()
	if err := r.fault("GetCoupon"); err != nil {
		return nil, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range r.st.data.coupons {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("coupon %s: %w", code, store.ErrNotFound)
}

func (r *memRepo) CreateCoupon(ctx context.Context, coupon *models.Coupon) error {
	defer r.lock()()
	for _, c := range r.st.data.coupons {
		if c.Code == coupon.Code {
			return fmt.Errorf("coupon %s: %w", coupon.Code, store.ErrDuplicate)
		}
	}
	coupon.ID = r.st.data.id()
	r.st.data.coupons[coupon.ID] = *coupon
	return nil
}

func (r *memRepo) IncrementCouponUsage(ctx context.Context, couponID int64) (bool, error) {
	defer r.lock()()
	if err := r.fault("IncrementCouponUsage"); err != nil {
		return false, err
	}
	c := r.st.data.coupons[couponID]
	if c.MaxUsageCount.Valid && c.CurrentUsageCount >= c.MaxUsageCount.Int64 {
		return false, nil
	}
	c.CurrentUsageCount++
	r.st.data.coupons[couponID] = c
	return true, nil
}

// address book

func (r *memRepo) GetAddress(ctx context.Context, id int64) (*models.Address, error) {
	defer r.lock()()
	a, ok := r.st.data.addresses[id]
	if !ok {
		return nil, fmt.Errorf("address %d: %w", id, store.ErrNotFound)
	}
	return &a, nil
}

func (r *memRepo) CreateAddress(ctx context.Context, addr *models.Address) error {
	defer r.lock()()
	addr.ID = r.st.data.id()
	r.st.data.addresses[addr.ID] = *addr
	return nil
}

// payments

func (r *memRepo) CreatePayment(ctx context.Context, payment *models.Payment) error {
	defer r.lock()()
	payment.ID = r.st.data.id()
	payment.CreatedAt = time.Now()
	r.st.data.payments[payment.ID] = *payment
	return nil
}

func (r *memRepo) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	defer r.lock()()
	p, ok := r.st.data.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %d: %w", id, store.ErrNotFound)
	}
	return &p, nil
}

func (r *memRepo) LockPayment(ctx context.Context, id int64) (*models.Payment, error) {
	return r.GetPayment(ctx, id)
}

func (r *memRepo) MarkPaymentPaid(ctx context.Context, id int64, token string, at time.Time) (bool, error) {
	defer r.lock()()
	p, ok := r.st.data.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = models.PaymentStatusPaid
	p.ConfirmationToken = token
	p.CompletedAt.Time, p.CompletedAt.Valid = at, true
	r.st.data.payments[id] = p
	return true, nil
}

func (r *memRepo) MarkPaymentFailed(ctx context.Context, id int64, message string, at time.Time) (bool, error) {
	defer r.lock()()
	p, ok := r.st.data.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = models.PaymentStatusFailed
	p.ErrorMessage = message
	p.FailedAt.Time, p.FailedAt.Valid = at, true
	r.st.data.payments[id] = p
	return true, nil
}

func (r *memRepo) SetPaymentOrderID(ctx context.Context, paymentID, orderID int64) (bool, error) {
	defer r.lock()()
	if err := r.fault("SetPaymentOrderID"); err != nil {
		return false, err
	}
	p := r.st.data.payments[paymentID]
	if p.OrderID.Valid {
		return false, nil
	}
	p.OrderID.Int64, p.OrderID.Valid = orderID, true
	r.st.data.payments[paymentID] = p
	return true, nil
}

func (r *memRepo) ListStalePendingPayments(ctx context.Context, before time.Time, limit int) ([]models.Payment, error) {
	defer r.lock()()
	out := []models.Payment{}
	for _, p := range r.st.data.payments {
		if p.Status == models.PaymentStatusPending && p.CreatedAt.Before(before) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) ListUnmaterializedPayments(ctx context.Context, limit int) ([]models.Payment, error) {
	defer r.lock()()
	out := []models.Payment{}
	for _, p := range r.st.data.payments {
		if p.Status == models.PaymentStatusPaid && !p.OrderID.Valid {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// orders

func (r *memRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	defer r.lock()()
	for _, o := range r.st.data.orders {
		if o.OrderNumber == order.OrderNumber {
			return fmt.Errorf("order number %s: %w", order.OrderNumber, store.ErrDuplicate)
		}
	}
	order.ID = r.st.data.id()
	order.CreatedAt = time.Now()
	r.st.data.orders[order.ID] = *order
	return nil
}

func (r *memRepo) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	defer r.lock()()
	for _, o := range r.st.data.orders {
		if o.OrderNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	defer r.lock()()
	item.ID = r.st.data.id()
	r.st.data.items[item.ID] = *item
	return nil
}

func (r *memRepo) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	defer r.lock()()
	o, ok := r.st.data.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	return &o, nil
}

func (r *memRepo) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return r.GetOrder(ctx, id)
}

func (r *memRepo) ListOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	defer r.lock()()
	out := []models.OrderItem{}
	for _, it := range r.st.data.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	defer r.lock()()
	out := []models.Order{}
	for _, o := range r.st.data.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memRepo) UpdateOrderFulfillment(ctx context.Context, order *models.Order) error {
	defer r.lock()()
	r.st.data.orders[order.ID] = *order
	return nil
}

func (r *memRepo) SetItemsTracking(ctx context.Context, orderID, sellerID int64, tracking string) error {
	defer r.lock()()
	for id, it := range r.st.data.items {
		if it.OrderID == orderID && it.SellerID == sellerID {
			it.TrackingNumber = tracking
			r.st.data.items[id] = it
		}
	}
	return nil
}

// memLocker is an in-process Locker
type memLocker struct {
	mu      sync.Mutex
	held    map[string]string
	calls   int
	extends int
}

func newMemLocker() *memLocker { return &memLocker{held: map[string]string{}} }

func (l *memLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	token := fmt.Sprintf("tok-%d", l.calls)
	l.held[key] = token
	return token, true, nil
}

func (l *memLocker) ReleaseLock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func (l *memLocker) ExtendLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return false, nil
	}
	l.extends++
	return true, nil
}

func (l *memLocker) extendCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.extends
}

func (l *memLocker) isHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

func (l *memLocker) hold(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[key] = "someone-else"
}

// memIdempotency is an in-process IdempotencyStore
type memIdempotency struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemIdempotency() *memIdempotency { return &memIdempotency{values: map[string]string{}} }

func (m *memIdempotency) GetIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memIdempotency) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = fmt.Sprint(value)
	return nil
}

// recordingPublisher remembers the type of every published event
type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) record(t string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, t)
	return nil
}

func (p *recordingPublisher) count(t string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, x := range p.types {
		if x == t {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) PublishPaymentInitiated(ctx context.Context, e *models.PaymentInitiatedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishPaymentCompleted(ctx context.Context, e *models.PaymentCompletedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishPaymentFailed(ctx context.Context, e *models.PaymentFailedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	return p.record(e.EventType)
}
