// Package notify delivers order events to the seller.
package notify

import (
	"fmt"
	"strings"

	"github.com/rl1809/storefront/internal/port"
)

// Summary renders the seller-facing text for an event.
func Summary(event port.OrderEvent) string {
	o := event.Order
	var b strings.Builder
	switch event.Type {
	case port.OrderPlaced:
		fmt.Fprintf(&b, "New order #%d\n", o.ID)
	case port.OrderConfirmed:
		fmt.Fprintf(&b, "Order #%d confirmed\n", o.ID)
	case port.OrderDelivered:
		fmt.Fprintf(&b, "Order #%d delivered\n", o.ID)
	case port.OrderCancelled:
		fmt.Fprintf(&b, "Order #%d cancelled\n", o.ID)
	default:
		fmt.Fprintf(&b, "Order #%d: %s\n", o.ID, event.Type)
	}
	if event.Type != port.OrderPlaced {
		return strings.TrimRight(b.String(), "\n")
	}

	for _, l := range o.Lines {
		fmt.Fprintf(&b, "%s x%d = %s\n", l.Name, l.Quantity, l.Cost.StringFixed(2))
	}
	for _, r := range o.Rejections {
		fmt.Fprintf(&b, "skipped: %s\n", r)
	}
	fmt.Fprintf(&b, "Total: %s\n", o.Total.StringFixed(2))
	fmt.Fprintf(&b, "Phone: %s\n", o.Contact.Phone)
	fmt.Fprintf(&b, "Address: %s", o.Contact.Address)
	return b.String()
}
