package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrDuplicate         = errors.New("store: duplicate key")
	ErrInsufficientStock = errors.New("store: insufficient stock")
)

// Querier is the set of reads and writes available both on the pool and
// inside a transaction.
type Querier interface {
	// catalog
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	GetListingsByIDs(ctx context.Context, ids []int64) ([]models.Listing, error)
	GetSellerIDByUserID(ctx context.Context, userID int64) (int64, error)

	// inventory ledger
	DecrementStock(ctx context.Context, listingID int64, quantity int) error
	RestoreStock(ctx context.Context, listingID int64, quantity int) error

	// carts
	GetActiveCart(ctx context.Context, userID int64) (*models.Cart, error)
	CreateActiveCart(ctx context.Context, userID int64) (*models.Cart, error)
	DeactivateCart(ctx context.Context, cartID int64) error
	ListCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error)
	GetCartLine(ctx context.Context, lineID int64) (*models.CartLine, error)
	AddCartLine(ctx context.Context, line *models.CartLine) error
	UpdateCartLine(ctx context.Context, line *models.CartLine) error
	DeleteCartLines(ctx context.Context, cartID int64, lineIDs []int64) error
	CountCartLines(ctx context.Context, cartID int64) (int, error)

	// coupons
	GetActiveCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	CreateCoupon(ctx context.Context, coupon *models.Coupon) error
	IncrementCouponUsage(ctx context.Context, couponID int64) (bool, error)

	// address book
	GetAddress(ctx context.Context, id int64) (*models.Address, error)
	CreateAddress(ctx context.Context, addr *models.Address) error

	// payments
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id int64) (*models.Payment, error)
	LockPayment(ctx context.Context, id int64) (*models.Payment, error)
	MarkPaymentPaid(ctx context.Context, id int64, token string, at time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, id int64, message string, at time.Time) (bool, error)
	SetPaymentOrderID(ctx context.Context, paymentID, orderID int64) (bool, error)
	ListStalePendingPayments(ctx context.Context, before time.Time, limit int) ([]models.Payment, error)
	ListUnmaterializedPayments(ctx context.Context, limit int) ([]models.Payment, error)

	// orders
	CreateOrder(ctx context.Context, order *models.Order) error
	OrderNumberExists(ctx context.Context, number string) (bool, error)
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	LockOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	UpdateOrderFulfillment(ctx context.Context, order *models.Order) error
	SetItemsTracking(ctx context.Context, orderID, sellerID int64, tracking string) error
}

// Repository is a Querier that can also open a transaction.
type Repository interface {
	Querier
	WithTx(ctx context.Context, fn func(q Querier) error) error
}

type queries struct {
	db sqlx.ExtContext
}

type Store struct {
	*queries
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{queries: &queries{db: db}, db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside a single transaction. The transaction commits only if
// fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func notFound(err error, what string, id interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
