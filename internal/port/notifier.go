package port

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
)

type OrderEventType string

const (
	OrderPlaced    OrderEventType = "order.placed"
	OrderConfirmed OrderEventType = "order.confirmed"
	OrderDelivered OrderEventType = "order.delivered"
	OrderCancelled OrderEventType = "order.cancelled"
)

// OrderEvent is emitted after an order is created or changes status.
type OrderEvent struct {
	ID         uuid.UUID
	Type       OrderEventType
	Order      domain.Order
	OccurredAt time.Time
}

// Notifier delivers order events to the seller.
type Notifier interface {
	Notify(ctx context.Context, event OrderEvent) error
}
