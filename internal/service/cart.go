package service

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartService manages the caller's active cart
type CartService struct {
	repo      store.Repository
	pricing   *PricingEngine
	inventory *InventoryLedger
	logger    *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(repo store.Repository, pricing *PricingEngine, inventory *InventoryLedger) *CartService {
	return &CartService{
		repo:      repo,
		pricing:   pricing,
		inventory: inventory,
		logger:    util.GetLogger(),
	}
}

// CartView is the active cart with its lines
type CartView struct {
	CartID           int64             `json:"cart_id"`
	Lines            []models.CartLine `json:"lines"`
	ItemCount        int               `json:"item_count"`
	SelectedSubtotal decimal.Decimal   `json:"selected_subtotal"`
}

// AddCartItemRequest represents a request to put a listing in the cart
type AddCartItemRequest struct {
	ListingID int64  `json:"listing_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
	Variant   string `json:"variant,omitempty"`
}

// UpdateCartLineRequest changes quantity and/or checkout selection
type UpdateCartLineRequest struct {
	Quantity   *int  `json:"quantity,omitempty"`
	IsSelected *bool `json:"is_selected,omitempty"`
}

// GetCart returns the caller's active cart, creating it on first use
func (s *CartService) GetCart(ctx context.Context, caller Caller) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart")
	defer span.End()

	if err := caller.requireCustomer(); err != nil {
		return nil, err
	}

	cart, err := s.activeCart(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	lines, err := s.repo.ListCartLines(ctx, cart.ID)
	if err != nil {
		return nil, apperr.Internal("failed to load cart lines", err)
	}

	if lines == nil {
		lines = []models.CartLine{}
	}

	view := &CartView{CartID: cart.ID, Lines: lines, SelectedSubtotal: decimal.Zero}
	for _, l := range lines {
		view.ItemCount += l.Quantity
		if l.IsSelected {
			view.SelectedSubtotal = view.SelectedSubtotal.Add(l.LineTotal())
		}
	}
	return view, nil
}

// AddItem puts a listing in the cart, creating the cart on first use. Adding
// a listing already in the cart with the same variant merges the quantities.
func (s *CartService) AddItem(ctx context.Context, caller Caller, req *AddCartItemRequest) (*models.CartLine, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if err := caller.requireCustomer(); err != nil {
		return nil, err
	}
	if req.Quantity < 1 {
		return nil, apperr.BadRequest("quantity must be at least 1")
	}

	listing, err := s.repo.GetListing(ctx, req.ListingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(fmt.Sprintf("listing %d not found", req.ListingID))
	}
	if err != nil {
		return nil, apperr.Internal("failed to load listing", err)
	}
	if listing.SellerUserID == caller.UserID {
		return nil, apperr.BadRequest("you cannot buy your own listing")
	}

	cart, err := s.activeCart(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	lines, err := s.repo.ListCartLines(ctx, cart.ID)
	if err != nil {
		return nil, apperr.Internal("failed to load cart lines", err)
	}
	wanted := req.Quantity
	for _, l := range lines {
		if l.ListingID == req.ListingID && l.Variant == req.Variant {
			wanted += l.Quantity
		}
	}
	if err := s.inventory.CheckAvailable(listing, wanted); err != nil {
		return nil, err
	}

	line := &models.CartLine{
		CartID:     cart.ID,
		ListingID:  listing.ID,
		Quantity:   req.Quantity,
		UnitPrice:  listing.UnitPrice(),
		IsSelected: true,
		Variant:    req.Variant,
	}
	if err := s.repo.AddCartLine(ctx, line); err != nil {
		return nil, apperr.Internal("failed to add cart line", err)
	}

	s.logger.Info("Cart line added",
		zap.Int64("user_id", caller.UserID),
		zap.Int64("cart_id", cart.ID),
		zap.Int64("listing_id", listing.ID),
		zap.Int("quantity", line.Quantity))

	return line, nil
}

// UpdateLine changes the quantity or selection of one of the caller's lines
func (s *CartService) UpdateLine(ctx context.Context, caller Caller, lineID int64, req *UpdateCartLineRequest) (*models.CartLine, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateLine")
	defer span.End()

	line, err := s.ownedLine(ctx, caller, lineID)
	if err != nil {
		return nil, err
	}

	if req.Quantity != nil {
		if *req.Quantity < 1 {
			return nil, apperr.BadRequest("quantity must be at least 1")
		}
		listing, err := s.repo.GetListing(ctx, line.ListingID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.BadRequest(fmt.Sprintf("listing %d no longer exists", line.ListingID))
		}
		if err != nil {
			return nil, apperr.Internal("failed to load listing", err)
		}
		if err := s.inventory.CheckAvailable(listing, *req.Quantity); err != nil {
			return nil, err
		}
		line.Quantity = *req.Quantity
	}
	if req.IsSelected != nil {
		line.IsSelected = *req.IsSelected
	}

	if err := s.repo.UpdateCartLine(ctx, line); err != nil {
		return nil, apperr.Internal("failed to update cart line", err)
	}
	return line, nil
}

// RemoveLine deletes one of the caller's lines
func (s *CartService) RemoveLine(ctx context.Context, caller Caller, lineID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveLine")
	defer span.End()

	line, err := s.ownedLine(ctx, caller, lineID)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteCartLines(ctx, line.CartID, []int64{line.ID}); err != nil {
		return apperr.Internal("failed to remove cart line", err)
	}
	return nil
}

// Quote prices the selected lines of the caller's cart without writing anything
func (s *CartService) Quote(ctx context.Context, caller Caller, couponCode string) (*PriceBreakdown, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Quote")
	defer span.End()

	if err := caller.requireCustomer(); err != nil {
		return nil, err
	}

	cart, err := s.repo.GetActiveCart(ctx, caller.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return s.pricing.Price(ctx, s.repo, nil, couponCode)
	}
	if err != nil {
		return nil, apperr.Internal("failed to load cart", err)
	}

	lines, err := s.repo.ListCartLines(ctx, cart.ID)
	if err != nil {
		return nil, apperr.Internal("failed to load cart lines", err)
	}
	return s.pricing.Price(ctx, s.repo, lines, couponCode)
}

func (s *CartService) activeCart(ctx context.Context, userID int64) (*models.Cart, error) {
	cart, err := s.repo.GetActiveCart(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Internal("failed to load cart", err)
	}

	cart, err = s.repo.CreateActiveCart(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("failed to create cart", err)
	}
	return cart, nil
}

// ownedLine loads a line of the caller's active cart. Lines of other carts
// are reported as missing.
func (s *CartService) ownedLine(ctx context.Context, caller Caller, lineID int64) (*models.CartLine, error) {
	if err := caller.requireCustomer(); err != nil {
		return nil, err
	}

	line, err := s.repo.GetCartLine(ctx, lineID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(fmt.Sprintf("cart line %d not found", lineID))
	}
	if err != nil {
		return nil, apperr.Internal("failed to load cart line", err)
	}

	cart, err := s.repo.GetActiveCart(ctx, caller.UserID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && cart.ID != line.CartID) {
		return nil, apperr.NotFound(fmt.Sprintf("cart line %d not found", lineID))
	}
	if err != nil {
		return nil, apperr.Internal("failed to load cart", err)
	}
	return line, nil
}
