package handler

import (
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

// Wire shapes shared by the HTTP and gRPC transports. Money is rendered
// with two decimals.

type ItemView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    string `json:"price"`
	Stock    int    `json:"stock"`
	ImageURL string `json:"image_url,omitempty"`
	InStock  bool   `json:"in_stock"`
}

type CartLineView struct {
	ItemID    int64  `json:"item_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price,omitempty"`
	Cost      string `json:"cost,omitempty"`
	Available int    `json:"available"`
	Missing   bool   `json:"missing,omitempty"`
}

type CartView struct {
	SessionID string         `json:"session_id"`
	Lines     []CartLineView `json:"lines"`
	Total     string         `json:"total"`
}

type OrderLineView struct {
	ItemID    int64  `json:"item_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Cost      string `json:"cost"`
}

type RejectionView struct {
	ItemID    int64  `json:"item_id"`
	Name      string `json:"name,omitempty"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Reason    string `json:"reason"`
}

type OrderView struct {
	ID            int64           `json:"id"`
	Ref           string          `json:"ref"`
	SessionID     string          `json:"session_id"`
	Status        string          `json:"status"`
	Policy        string          `json:"deduction_policy"`
	StockDeducted bool            `json:"stock_deducted"`
	Phone         string          `json:"phone"`
	Address       string          `json:"address"`
	Lines         []OrderLineView `json:"lines"`
	Rejections    []RejectionView `json:"rejections,omitempty"`
	Total         string          `json:"total"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
}

type LoadStatsView struct {
	Source     string `json:"source"`
	Items      int    `json:"items"`
	Dropped    int    `json:"dropped"`
	Categories int    `json:"categories"`
	Version    int64  `json:"version"`
	Changed    bool   `json:"changed"`
	DurationMS int64  `json:"duration_ms"`
}

type ErrorView struct {
	Code       string          `json:"code"`
	Message    string          `json:"message"`
	Rejections []RejectionView `json:"rejections,omitempty"`
}

func itemView(it domain.Item) ItemView {
	return ItemView{
		ID:       it.ID,
		Name:     it.Name,
		Category: it.Category,
		Price:    it.Price.StringFixed(2),
		Stock:    it.Stock,
		ImageURL: it.ImageURL,
		InStock:  it.InStock(),
	}
}

func itemViews(items []domain.Item) []ItemView {
	out := make([]ItemView, 0, len(items))
	for _, it := range items {
		out = append(out, itemView(it))
	}
	return out
}

func cartView(v domain.CartView) CartView {
	out := CartView{SessionID: v.SessionID, Lines: make([]CartLineView, 0, len(v.Lines)), Total: v.Total.StringFixed(2)}
	for _, l := range v.Lines {
		line := CartLineView{ItemID: l.ItemID, Name: l.Name, Quantity: l.Quantity, Available: l.Available, Missing: l.Missing}
		if !l.Missing {
			line.UnitPrice = l.UnitPrice.StringFixed(2)
			line.Cost = l.Cost.StringFixed(2)
		}
		out.Lines = append(out.Lines, line)
	}
	return out
}

func rejectionViews(rs []domain.LineRejection) []RejectionView {
	if len(rs) == 0 {
		return nil
	}
	out := make([]RejectionView, 0, len(rs))
	for _, r := range rs {
		out = append(out, RejectionView{ItemID: r.ItemID, Name: r.Name, Requested: r.Requested, Available: r.Available, Reason: r.Reason})
	}
	return out
}

func orderView(o domain.Order) OrderView {
	out := OrderView{
		ID:            o.ID,
		Ref:           o.Ref.String(),
		SessionID:     o.SessionID,
		Status:        o.Status.String(),
		Policy:        string(o.Policy),
		StockDeducted: o.StockDeducted,
		Phone:         o.Contact.Phone,
		Address:       o.Contact.Address,
		Lines:         make([]OrderLineView, 0, len(o.Lines)),
		Rejections:    rejectionViews(o.Rejections),
		Total:         o.Total.StringFixed(2),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		ConfirmedAt:   o.ConfirmedAt,
		DeliveredAt:   o.DeliveredAt,
		CancelledAt:   o.CancelledAt,
	}
	for _, l := range o.Lines {
		out.Lines = append(out.Lines, OrderLineView{
			ItemID:    l.ItemID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Cost:      l.Cost.StringFixed(2),
		})
	}
	return out
}

func orderViews(orders []domain.Order) []OrderView {
	out := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderView(o))
	}
	return out
}

func loadStatsView(s service.LoadStats) LoadStatsView {
	return LoadStatsView{
		Source:     s.Source,
		Items:      s.Items,
		Dropped:    s.Dropped,
		Categories: s.Categories,
		Version:    s.Version,
		Changed:    s.Changed,
		DurationMS: s.Duration.Milliseconds(),
	}
}
