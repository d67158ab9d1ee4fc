package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// CanTransitionTo checks the order state machine.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return target == OrderStatusConfirmed || target == OrderStatusCancelled
	case OrderStatusConfirmed:
		return target == OrderStatusDelivered || target == OrderStatusCancelled
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func (s OrderStatus) String() string {
	return string(s)
}

// DeductionPolicy decides when an order takes stock out of the catalog.
type DeductionPolicy string

const (
	DeductOnDelivery DeductionPolicy = "on_delivery"
	DeductOnCheckout DeductionPolicy = "on_checkout"
)

func ParseDeductionPolicy(s string) (DeductionPolicy, error) {
	switch p := DeductionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case DeductOnDelivery, DeductOnCheckout:
		return p, nil
	case "":
		return DeductOnDelivery, nil
	}
	return "", fmt.Errorf("unknown deduction policy %q", s)
}

const minContactLength = 10

// Contact is the buyer's delivery contact.
type Contact struct {
	Phone   string
	Address string
}

// Normalize trims both fields.
func (c Contact) Normalize() Contact {
	return Contact{Phone: strings.TrimSpace(c.Phone), Address: strings.TrimSpace(c.Address)}
}

// Validate requires a phone and a full address of at least ten characters.
func (c Contact) Validate() error {
	c = c.Normalize()
	if len([]rune(c.Phone)) < minContactLength {
		return fmt.Errorf("%w: phone number is too short", ErrInvalidContact)
	}
	if len([]rune(c.Address)) < minContactLength {
		return fmt.Errorf("%w: address is too short", ErrInvalidContact)
	}
	return nil
}

// Line is an order line frozen at checkout time.
type Line struct {
	ItemID    int64
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Cost      decimal.Decimal
}

const (
	RejectNotFound          = "not found"
	RejectInsufficientStock = "insufficient stock"
)

// LineRejection records a cart line that did not make it into the order.
type LineRejection struct {
	ItemID    int64
	Name      string
	Requested int
	Available int
	Reason    string
}

func (r LineRejection) String() string {
	if r.Reason == RejectNotFound {
		return fmt.Sprintf("item %d: %s", r.ItemID, r.Reason)
	}
	return fmt.Sprintf("%s: %s (requested %d, available %d)", r.Name, r.Reason, r.Requested, r.Available)
}

type Order struct {
	ID            int64
	Ref           uuid.UUID
	SessionID     string
	Contact       Contact
	Lines         []Line
	Rejections    []LineRejection
	Total         decimal.Decimal
	Status        OrderStatus
	Policy        DeductionPolicy
	StockDeducted bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ConfirmedAt   *time.Time
	DeliveredAt   *time.Time
	CancelledAt   *time.Time
}

// NewOrder builds a pending order from already validated lines.
func NewOrder(id int64, sessionID string, contact Contact, lines []Line, rejections []LineRejection, policy DeductionPolicy) *Order {
	now := time.Now()
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Cost)
	}
	return &Order{
		ID:         id,
		Ref:        uuid.New(),
		SessionID:  sessionID,
		Contact:    contact.Normalize(),
		Lines:      lines,
		Rejections: rejections,
		Total:      total,
		Status:     OrderStatusPending,
		Policy:     policy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Transition moves the order to target or fails with ErrInvalidTransition.
func (o *Order) Transition(target OrderStatus) error {
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: order %d is already %s", ErrInvalidTransition, o.ID, o.Status)
	}
	if !o.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: order %d cannot go from %s to %s", ErrInvalidTransition, o.ID, o.Status, target)
	}
	now := time.Now()
	o.Status = target
	o.UpdatedAt = now
	switch target {
	case OrderStatusConfirmed:
		o.ConfirmedAt = &now
	case OrderStatusDelivered:
		o.DeliveredAt = &now
	case OrderStatusCancelled:
		o.CancelledAt = &now
	}
	return nil
}

// Adjustments returns the stock changes that taking (sign -1) or returning
// (sign +1) the order's lines would apply.
func (o *Order) Adjustments(sign int) []Adjustment {
	adj := make([]Adjustment, 0, len(o.Lines))
	for _, l := range o.Lines {
		adj = append(adj, Adjustment{ItemID: l.ItemID, Delta: sign * l.Quantity})
	}
	return adj
}

// Clone returns a deep copy safe to hand out to callers.
func (o *Order) Clone() Order {
	c := *o
	c.Lines = append([]Line(nil), o.Lines...)
	c.Rejections = append([]LineRejection(nil), o.Rejections...)
	c.ConfirmedAt = copyTime(o.ConfirmedAt)
	c.DeliveredAt = copyTime(o.DeliveredAt)
	c.CancelledAt = copyTime(o.CancelledAt)
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
