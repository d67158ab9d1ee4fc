package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const defaultLowStockThreshold = 3

type ShopOption func(*Shop)

// WithIdempotency makes Checkout reject a repeated request id per session.
func WithIdempotency(store port.IdempotencyStore) ShopOption {
	return func(s *Shop) {
		s.idem = store
	}
}

func WithLowStockThreshold(n int) ShopOption {
	return func(s *Shop) {
		if n >= 0 {
			s.lowStock = n
		}
	}
}

func WithShopLogger(log *zap.Logger) ShopOption {
	return func(s *Shop) {
		if log != nil {
			s.log = log
		}
	}
}

// Shop is the request/response surface the transports call into.
type Shop struct {
	catalog  *CatalogStore
	carts    *CartManager
	ledger   *OrderLedger
	idem     port.IdempotencyStore
	lowStock int
	log      *zap.Logger
}

func NewShop(catalog *CatalogStore, carts *CartManager, ledger *OrderLedger, opts ...ShopOption) *Shop {
	s := &Shop{
		catalog:  catalog,
		carts:    carts,
		ledger:   ledger,
		lowStock: defaultLowStockThreshold,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog exposes the current snapshot for version and freshness reporting.
func (s *Shop) Catalog() *domain.Catalog {
	return s.catalog.Snapshot()
}

func (s *Shop) ListCategories() []string {
	return s.catalog.Categories()
}

func (s *Shop) ListItemsByCategory(category string) []domain.Item {
	return s.catalog.ByCategory(category)
}

func (s *Shop) GetItem(itemID int64) (domain.Item, error) {
	return s.catalog.Item(itemID)
}

func (s *Shop) SearchItems(query string) []domain.Item {
	return s.catalog.Search(query)
}

// LowStock lists items at or below the configured threshold.
func (s *Shop) LowStock() []domain.Item {
	return s.catalog.LowStock(s.lowStock)
}

func (s *Shop) AddToCart(sessionID string, itemID int64) (domain.CartView, error) {
	if err := checkSession(sessionID); err != nil {
		return domain.CartView{}, err
	}
	snap := s.catalog.Snapshot()
	cart, err := s.carts.Add(sessionID, itemID, snap)
	if err != nil {
		return domain.CartView{}, err
	}
	return cart.Render(snap), nil
}

func (s *Shop) RemoveFromCart(sessionID string, itemID int64) (domain.CartView, error) {
	if err := checkSession(sessionID); err != nil {
		return domain.CartView{}, err
	}
	cart, err := s.carts.Remove(sessionID, itemID)
	if err != nil {
		return domain.CartView{}, err
	}
	return cart.Render(s.catalog.Snapshot()), nil
}

func (s *Shop) ViewCart(sessionID string) (domain.CartView, error) {
	if err := checkSession(sessionID); err != nil {
		return domain.CartView{}, err
	}
	return s.carts.Get(sessionID).Render(s.catalog.Snapshot()), nil
}

func (s *Shop) ClearCart(sessionID string) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	s.carts.Clear(sessionID)
	return nil
}

// Checkout turns the session's cart into a pending order and empties the cart.
// A non-empty requestID makes the call idempotent per session.
func (s *Shop) Checkout(ctx context.Context, sessionID string, contact domain.Contact, requestID string) (domain.Order, error) {
	if err := checkSession(sessionID); err != nil {
		return domain.Order{}, err
	}
	cart := s.carts.Get(sessionID)
	if cart.IsEmpty() {
		return domain.Order{}, domain.ErrEmptyCart
	}

	key := ""
	if s.idem != nil && strings.TrimSpace(requestID) != "" {
		key = fmt.Sprintf("checkout:%s:%s", sessionID, strings.TrimSpace(requestID))
		ok, err := s.idem.SetIdempotency(ctx, key)
		if err != nil {
			return domain.Order{}, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return domain.Order{}, fmt.Errorf("%w: request %s", domain.ErrDuplicateRequest, requestID)
		}
	}

	order, err := s.ledger.Checkout(ctx, cart, contact)
	if err != nil {
		if key != "" {
			if relErr := s.idem.ReleaseIdempotency(ctx, key); relErr != nil {
				s.log.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
			}
		}
		return domain.Order{}, err
	}

	s.carts.Clear(sessionID)
	return order, nil
}

func (s *Shop) ConfirmOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	return s.ledger.Confirm(ctx, orderID)
}

func (s *Shop) CancelOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	return s.ledger.Cancel(ctx, orderID)
}

func (s *Shop) DeliverOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	return s.ledger.Deliver(ctx, orderID)
}

func (s *Shop) GetOrder(orderID int64) (domain.Order, error) {
	return s.ledger.Get(orderID)
}

// ListOrders returns the session's orders, or every order for an empty session.
func (s *Shop) ListOrders(sessionID string) []domain.Order {
	if sessionID == "" {
		return s.ledger.List()
	}
	return s.ledger.ListBySession(sessionID)
}

func (s *Shop) ReloadCatalog(ctx context.Context) (LoadStats, error) {
	return s.catalog.Reload(ctx)
}

func (s *Shop) UpsertItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	return s.catalog.UpsertItem(ctx, item)
}

func (s *Shop) DeleteItem(ctx context.Context, itemID int64) error {
	return s.catalog.DeleteItem(ctx, itemID)
}

func (s *Shop) AdjustStock(ctx context.Context, itemID int64, delta int) (domain.Item, error) {
	return s.catalog.AdjustStock(ctx, itemID, delta)
}

func checkSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return domain.ErrInvalidSession
	}
	return nil
}
