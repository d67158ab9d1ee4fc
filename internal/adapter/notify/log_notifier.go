package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/port"
)

// LogNotifier writes every event to the log. It is the default when no
// webhook is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, event port.OrderEvent) error {
	n.log.Info("order event",
		zap.String("event_id", event.ID.String()),
		zap.String("type", string(event.Type)),
		zap.Int64("order_id", event.Order.ID),
		zap.String("session", event.Order.SessionID),
		zap.String("total", event.Order.Total.StringFixed(2)),
		zap.String("summary", Summary(event)),
	)
	return nil
}
