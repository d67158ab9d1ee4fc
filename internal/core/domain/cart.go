package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Cart is a copy of one session's selections: item id -> quantity.
type Cart struct {
	SessionID string
	Lines     map[int64]int
}

func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// ItemIDs returns the cart's item ids in ascending order.
func (c Cart) ItemIDs() []int64 {
	ids := make([]int64, 0, len(c.Lines))
	for id := range c.Lines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CartLine is a cart entry priced against a catalog snapshot.
type CartLine struct {
	ItemID    int64
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Cost      decimal.Decimal
	Available int
	Missing   bool
}

// CartView is a cart rendered against the current catalog.
type CartView struct {
	SessionID string
	Lines     []CartLine
	Total     decimal.Decimal
}

// Render prices the cart against catalog. Items no longer in the catalog are
// flagged Missing and excluded from the total.
func (c Cart) Render(catalog *Catalog) CartView {
	view := CartView{SessionID: c.SessionID, Total: decimal.Zero}
	for _, id := range c.ItemIDs() {
		qty := c.Lines[id]
		it, ok := catalog.Item(id)
		if !ok {
			view.Lines = append(view.Lines, CartLine{ItemID: id, Quantity: qty, Missing: true})
			continue
		}
		cost := it.Price.Mul(decimal.NewFromInt(int64(qty)))
		view.Lines = append(view.Lines, CartLine{
			ItemID:    id,
			Name:      it.Name,
			Quantity:  qty,
			UnitPrice: it.Price,
			Cost:      cost,
			Available: it.Stock,
		})
		view.Total = view.Total.Add(cost)
	}
	return view
}
