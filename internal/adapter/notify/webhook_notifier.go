package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/rl1809/storefront/internal/port"
)

var ErrWebhookStatus = errors.New("webhook returned non-success status")

type WebhookConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
	// RatePerMinute caps outgoing requests; zero means unlimited.
	RatePerMinute int
	Burst         int
}

// WebhookNotifier POSTs each event as JSON to the seller's endpoint.
type WebhookNotifier struct {
	url     string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), burst)
	}
	return &WebhookNotifier{
		url:     cfg.URL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

type webhookLine struct {
	ItemID    int64  `json:"item_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Cost      string `json:"cost"`
}

type webhookPayload struct {
	EventID    string        `json:"event_id"`
	Type       string        `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	OrderID    int64         `json:"order_id"`
	OrderRef   string        `json:"order_ref"`
	SessionID  string        `json:"session_id"`
	Status     string        `json:"status"`
	Phone      string        `json:"phone"`
	Address    string        `json:"address"`
	Lines      []webhookLine `json:"lines"`
	Rejected   []string      `json:"rejected,omitempty"`
	Total      string        `json:"total"`
	Text       string        `json:"text"`
}

func payloadFor(event port.OrderEvent) webhookPayload {
	o := event.Order
	p := webhookPayload{
		EventID:    event.ID.String(),
		Type:       string(event.Type),
		OccurredAt: event.OccurredAt.UTC(),
		OrderID:    o.ID,
		OrderRef:   o.Ref.String(),
		SessionID:  o.SessionID,
		Status:     o.Status.String(),
		Phone:      o.Contact.Phone,
		Address:    o.Contact.Address,
		Lines:      make([]webhookLine, 0, len(o.Lines)),
		Total:      o.Total.StringFixed(2),
		Text:       Summary(event),
	}
	for _, l := range o.Lines {
		p.Lines = append(p.Lines, webhookLine{
			ItemID:    l.ItemID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Cost:      l.Cost.StringFixed(2),
		})
	}
	for _, r := range o.Rejections {
		p.Rejected = append(p.Rejected, r.String())
	}
	return p
}

// Notify waits for the rate limiter, then delivers the event. Any non-2xx
// response is an error.
func (n *WebhookNotifier) Notify(ctx context.Context, event port.OrderEvent) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(payloadFor(event))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", event.ID.String())
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrWebhookStatus, resp.StatusCode)
	}
	return nil
}
