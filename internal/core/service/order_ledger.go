package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// EventPublisher accepts order events without blocking. It reports false when
// the event was dropped.
type EventPublisher interface {
	Publish(event port.OrderEvent) bool
}

type LedgerOption func(*OrderLedger)

func WithLedgerLogger(log *zap.Logger) LedgerOption {
	return func(l *OrderLedger) {
		if log != nil {
			l.log = log
		}
	}
}

func WithLedgerRecorder(r Recorder) LedgerOption {
	return func(l *OrderLedger) {
		if r != nil {
			l.rec = r
		}
	}
}

func WithEventPublisher(p EventPublisher) LedgerOption {
	return func(l *OrderLedger) {
		l.events = p
	}
}

type orderEntry struct {
	mu    sync.Mutex
	order *domain.Order
}

// OrderLedger holds every order of the process and drives the order state
// machine. An order's lock is always taken before the catalog's.
type OrderLedger struct {
	catalog *CatalogStore
	policy  domain.DeductionPolicy
	log     *zap.Logger
	rec     Recorder
	events  EventPublisher

	nextID atomic.Int64

	mu        sync.RWMutex
	orders    map[int64]*orderEntry
	bySession map[string][]int64
}

func NewOrderLedger(catalog *CatalogStore, policy domain.DeductionPolicy, opts ...LedgerOption) *OrderLedger {
	if policy == "" {
		policy = domain.DeductOnDelivery
	}
	l := &OrderLedger{
		catalog:   catalog,
		policy:    policy,
		log:       zap.NewNop(),
		rec:       NopRecorder(),
		orders:    make(map[int64]*orderEntry),
		bySession: make(map[string][]int64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy is the deduction policy stamped on new orders.
func (l *OrderLedger) Policy() domain.DeductionPolicy {
	return l.policy
}

// Checkout validates the cart against the current catalog and records a
// pending order with the lines that can be served. Lines that cannot are
// returned as rejections on the order. If nothing can be served the result is
// a *domain.CheckoutError. The caller owns the cart and clears it on success.
func (l *OrderLedger) Checkout(ctx context.Context, cart domain.Cart, contact domain.Contact) (domain.Order, error) {
	ctx, span := startSpan(ctx, "OrderLedger.Checkout",
		attribute.String("order.session_id", cart.SessionID),
		attribute.Int("order.cart_lines", len(cart.Lines)),
	)

	order, err := l.checkout(ctx, cart, contact)
	l.rec.CheckoutCompleted(checkoutOutcome(err), len(order.Rejections))
	endSpan(span, err)
	return order, err
}

func (l *OrderLedger) checkout(ctx context.Context, cart domain.Cart, contact domain.Contact) (domain.Order, error) {
	if cart.IsEmpty() {
		return domain.Order{}, domain.ErrEmptyCart
	}
	if err := contact.Validate(); err != nil {
		return domain.Order{}, err
	}

	lines, rejections := priceCart(cart, l.catalog.Snapshot())
	if len(lines) == 0 {
		return domain.Order{}, &domain.CheckoutError{Rejections: rejections}
	}

	deducted := false
	if l.policy == domain.DeductOnCheckout {
		var err error
		lines, rejections, err = l.reserve(ctx, lines, rejections)
		if err != nil {
			return domain.Order{}, err
		}
		if len(lines) == 0 {
			return domain.Order{}, &domain.CheckoutError{Rejections: rejections}
		}
		deducted = true
	}

	order := domain.NewOrder(l.nextID.Add(1), cart.SessionID, contact, lines, rejections, l.policy)
	order.StockDeducted = deducted

	l.mu.Lock()
	l.orders[order.ID] = &orderEntry{order: order}
	l.bySession[order.SessionID] = append(l.bySession[order.SessionID], order.ID)
	l.mu.Unlock()

	out := order.Clone()
	l.log.Info("order placed",
		zap.Int64("order_id", out.ID),
		zap.String("ref", out.Ref.String()),
		zap.String("session_id", out.SessionID),
		zap.String("total", out.Total.String()),
		zap.Int("lines", len(out.Lines)),
		zap.Int("rejected", len(out.Rejections)),
		zap.String("policy", string(out.Policy)),
	)
	l.publish(port.OrderPlaced, out)
	return out, nil
}

// priceCart splits the cart into order lines and rejections against snap.
func priceCart(cart domain.Cart, snap *domain.Catalog) ([]domain.Line, []domain.LineRejection) {
	var (
		lines      []domain.Line
		rejections []domain.LineRejection
	)
	for _, id := range cart.ItemIDs() {
		qty := cart.Lines[id]
		item, ok := snap.Item(id)
		if !ok {
			rejections = append(rejections, domain.LineRejection{ItemID: id, Requested: qty, Reason: domain.RejectNotFound})
			continue
		}
		if qty > item.Stock {
			rejections = append(rejections, domain.LineRejection{
				ItemID:    id,
				Name:      item.Name,
				Requested: qty,
				Available: item.Stock,
				Reason:    domain.RejectInsufficientStock,
			})
			continue
		}
		lines = append(lines, domain.Line{
			ItemID:    id,
			Name:      item.Name,
			Quantity:  qty,
			UnitPrice: item.Price,
			Cost:      item.Price.Mul(decimal.NewFromInt(int64(qty))),
		})
	}
	return lines, rejections
}

// reserve deducts the lines in one batch. A line that lost a race since
// pricing is moved to the rejections and the rest retried, so every line ends
// up either fully reserved or rejected.
func (l *OrderLedger) reserve(ctx context.Context, lines []domain.Line, rejections []domain.LineRejection) ([]domain.Line, []domain.LineRejection, error) {
	for len(lines) > 0 {
		adj := make([]domain.Adjustment, 0, len(lines))
		for _, ln := range lines {
			adj = append(adj, domain.Adjustment{ItemID: ln.ItemID, Delta: -ln.Quantity})
		}

		_, err := l.catalog.AdjustBatch(ctx, adj, BatchOptions{})
		if err == nil {
			return lines, rejections, nil
		}

		var (
			stockErr   *domain.StockError
			missingErr *domain.MissingItemError
			rejected   domain.LineRejection
		)
		switch {
		case errors.As(err, &stockErr):
			rejected = domain.LineRejection{
				ItemID:    stockErr.ItemID,
				Requested: stockErr.Requested,
				Available: stockErr.Available,
				Reason:    domain.RejectInsufficientStock,
			}
		case errors.As(err, &missingErr):
			rejected = domain.LineRejection{ItemID: missingErr.ItemID, Reason: domain.RejectNotFound}
		default:
			return nil, nil, err
		}

		kept := lines[:0:0]
		for _, ln := range lines {
			if ln.ItemID == rejected.ItemID {
				rejected.Name = ln.Name
				rejected.Requested = ln.Quantity
				continue
			}
			kept = append(kept, ln)
		}
		lines = kept
		rejections = append(rejections, rejected)
		l.log.Info("checkout line lost the stock race",
			zap.Int64("item_id", rejected.ItemID),
			zap.String("reason", rejected.Reason),
		)
	}
	return lines, rejections, nil
}

// Confirm moves a pending order to confirmed.
func (l *OrderLedger) Confirm(ctx context.Context, orderID int64) (domain.Order, error) {
	return l.transition(ctx, orderID, domain.OrderStatusConfirmed, nil)
}

// Deliver moves a confirmed order to delivered, taking its stock out of the
// catalog unless that already happened at checkout. If the catalog can no
// longer cover the order it stays confirmed and ErrStockConflict is returned.
func (l *OrderLedger) Deliver(ctx context.Context, orderID int64) (domain.Order, error) {
	return l.transition(ctx, orderID, domain.OrderStatusDelivered, func(ctx context.Context, o *domain.Order) error {
		if o.StockDeducted {
			return nil
		}
		if _, err := l.catalog.AdjustBatch(ctx, o.Adjustments(-1), BatchOptions{}); err != nil {
			if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrItemNotFound) {
				return fmt.Errorf("%w: order %d: %w", domain.ErrStockConflict, o.ID, err)
			}
			return err
		}
		o.StockDeducted = true
		return nil
	})
}

// Cancel moves a pending or confirmed order to cancelled and returns any
// stock it holds. Items deleted from the catalog meanwhile are skipped.
func (l *OrderLedger) Cancel(ctx context.Context, orderID int64) (domain.Order, error) {
	return l.transition(ctx, orderID, domain.OrderStatusCancelled, func(ctx context.Context, o *domain.Order) error {
		if !o.StockDeducted {
			return nil
		}
		if _, err := l.catalog.AdjustBatch(ctx, o.Adjustments(1), BatchOptions{SkipMissing: true}); err != nil {
			return err
		}
		o.StockDeducted = false
		return nil
	})
}

type sideEffect func(ctx context.Context, o *domain.Order) error

func (l *OrderLedger) transition(ctx context.Context, orderID int64, target domain.OrderStatus, effect sideEffect) (domain.Order, error) {
	ctx, span := startSpan(ctx, "OrderLedger.Transition",
		attribute.Int64("order.id", orderID),
		attribute.String("order.target", target.String()),
	)

	order, err := l.apply(ctx, orderID, target, effect)
	l.rec.OrderTransitioned(target, err)
	endSpan(span, err)
	if err != nil {
		l.log.Warn("order transition failed",
			zap.Int64("order_id", orderID),
			zap.String("target", target.String()),
			zap.Error(err),
		)
		return domain.Order{}, err
	}

	l.log.Info("order status changed",
		zap.Int64("order_id", order.ID),
		zap.String("status", order.Status.String()),
		zap.Bool("stock_deducted", order.StockDeducted),
	)
	l.publish(eventFor(target), order)
	return order, nil
}

func (l *OrderLedger) apply(ctx context.Context, orderID int64, target domain.OrderStatus, effect sideEffect) (domain.Order, error) {
	entry, err := l.entry(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	o := entry.order
	if !o.Status.CanTransitionTo(target) {
		return domain.Order{}, fmt.Errorf("%w: order %d cannot go from %s to %s", domain.ErrInvalidTransition, o.ID, o.Status, target)
	}
	if effect != nil {
		if err := effect(ctx, o); err != nil {
			return domain.Order{}, err
		}
	}
	if err := o.Transition(target); err != nil {
		return domain.Order{}, err
	}
	return o.Clone(), nil
}

func (l *OrderLedger) entry(orderID int64) (*orderEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", domain.ErrOrderNotFound, orderID)
	}
	return e, nil
}

// Get returns a copy of the order.
func (l *OrderLedger) Get(orderID int64) (domain.Order, error) {
	e, err := l.entry(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Clone(), nil
}

// ListBySession returns the session's orders, oldest first.
func (l *OrderLedger) ListBySession(sessionID string) []domain.Order {
	l.mu.RLock()
	ids := append([]int64(nil), l.bySession[sessionID]...)
	l.mu.RUnlock()
	return l.collect(ids)
}

// List returns every order, oldest first.
func (l *OrderLedger) List() []domain.Order {
	l.mu.RLock()
	ids := make([]int64, 0, len(l.orders))
	for id := range l.orders {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return l.collect(ids)
}

func (l *OrderLedger) collect(ids []int64) []domain.Order {
	out := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		if o, err := l.Get(id); err == nil {
			out = append(out, o)
		}
	}
	return out
}

func (l *OrderLedger) publish(typ port.OrderEventType, order domain.Order) {
	if l.events == nil {
		return
	}
	event := port.OrderEvent{
		ID:         uuid.New(),
		Type:       typ,
		Order:      order,
		OccurredAt: time.Now(),
	}
	if !l.events.Publish(event) {
		l.log.Debug("order event not queued", zap.String("type", string(typ)), zap.Int64("order_id", order.ID))
	}
}

func eventFor(status domain.OrderStatus) port.OrderEventType {
	switch status {
	case domain.OrderStatusConfirmed:
		return port.OrderConfirmed
	case domain.OrderStatusDelivered:
		return port.OrderDelivered
	case domain.OrderStatusCancelled:
		return port.OrderCancelled
	}
	return port.OrderPlaced
}

func checkoutOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, domain.ErrNoValidItems):
		return OutcomeRejected
	case errors.Is(err, domain.ErrPersistence):
		return OutcomePersistFail
	}
	return OutcomeInvalid
}
