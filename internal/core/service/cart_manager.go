package service

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
)

type sessionCart struct {
	mu    sync.Mutex
	lines map[int64]int
}

// CartManager keeps one in-memory cart per session. Stock checks here are
// advisory; the ledger re-validates at checkout.
type CartManager struct {
	log *zap.Logger

	mu    sync.RWMutex
	carts map[string]*sessionCart
}

func NewCartManager(log *zap.Logger) *CartManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &CartManager{
		log:   log,
		carts: make(map[string]*sessionCart),
	}
}

func (m *CartManager) cart(sessionID string) *sessionCart {
	m.mu.RLock()
	c, ok := m.carts[sessionID]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.carts[sessionID]; !ok {
		c = &sessionCart{lines: make(map[int64]int)}
		m.carts[sessionID] = c
	}
	return c
}

// Get returns a copy of the session's cart, creating it empty on first use.
func (m *CartManager) Get(sessionID string) domain.Cart {
	c := m.cart(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot(sessionID)
}

// Add puts one more unit of itemID in the cart if the snapshot has stock for it.
func (m *CartManager) Add(sessionID string, itemID int64, catalog *domain.Catalog) (domain.Cart, error) {
	item, ok := catalog.Item(itemID)
	if !ok {
		return domain.Cart{}, fmt.Errorf("%w: id %d", domain.ErrItemNotFound, itemID)
	}
	if !item.InStock() {
		return domain.Cart{}, fmt.Errorf("%w: %s", domain.ErrOutOfStock, item.Name)
	}

	c := m.cart(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lines[itemID] >= item.Stock {
		return domain.Cart{}, fmt.Errorf("%w: %s has %d in stock", domain.ErrQuantityExceedsStock, item.Name, item.Stock)
	}
	c.lines[itemID]++
	m.log.Debug("added to cart",
		zap.String("session_id", sessionID),
		zap.Int64("item_id", itemID),
		zap.Int("quantity", c.lines[itemID]),
	)
	return c.snapshot(sessionID), nil
}

// Remove takes one unit of itemID out of the cart, dropping the line at zero.
func (m *CartManager) Remove(sessionID string, itemID int64) (domain.Cart, error) {
	c := m.cart(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()

	qty, ok := c.lines[itemID]
	if !ok {
		return domain.Cart{}, fmt.Errorf("%w: id %d", domain.ErrItemNotInCart, itemID)
	}
	if qty <= 1 {
		delete(c.lines, itemID)
	} else {
		c.lines[itemID] = qty - 1
	}
	return c.snapshot(sessionID), nil
}

func (m *CartManager) Clear(sessionID string) {
	c := m.cart(sessionID)
	c.mu.Lock()
	c.lines = make(map[int64]int)
	c.mu.Unlock()
}

func (c *sessionCart) snapshot(sessionID string) domain.Cart {
	lines := make(map[int64]int, len(c.lines))
	for id, qty := range c.lines {
		lines[id] = qty
	}
	return domain.Cart{SessionID: sessionID, Lines: lines}
}
