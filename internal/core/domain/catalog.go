package domain

import (
	"sort"
	"strings"
	"time"
)

// Catalog is an immutable snapshot of the catalog. Writers derive a new
// snapshot with the With* methods; readers never see a partial update.
type Catalog struct {
	items    map[int64]Item
	order    []int64
	version  int64
	loadedAt time.Time
}

// NewCatalog builds a snapshot keeping the given row order. Later duplicates
// of an id replace earlier ones.
func NewCatalog(items []Item, version int64, loadedAt time.Time) *Catalog {
	c := &Catalog{
		items:    make(map[int64]Item, len(items)),
		order:    make([]int64, 0, len(items)),
		version:  version,
		loadedAt: loadedAt,
	}
	for _, it := range items {
		if _, dup := c.items[it.ID]; !dup {
			c.order = append(c.order, it.ID)
		}
		c.items[it.ID] = it
	}
	return c
}

func (c *Catalog) Version() int64 {
	if c == nil {
		return 0
	}
	return c.version
}

func (c *Catalog) LoadedAt() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.loadedAt
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}

// Item looks up an item by id.
func (c *Catalog) Item(id int64) (Item, bool) {
	if c == nil {
		return Item{}, false
	}
	it, ok := c.items[id]
	return it, ok
}

// Items returns all items in source row order.
func (c *Catalog) Items() []Item {
	return c.filter(func(Item) bool { return true })
}

// Categories returns the sorted set of categories.
func (c *Catalog) Categories() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, id := range c.order {
		cat := c.items[id].Category
		if _, ok := seen[cat]; ok {
			continue
		}
		seen[cat] = struct{}{}
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) ByCategory(category string) []Item {
	return c.filter(func(it Item) bool { return it.Category == category })
}

// Search matches a case-insensitive substring of the item name.
func (c *Catalog) Search(query string) []Item {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	return c.filter(func(it Item) bool {
		return strings.Contains(strings.ToLower(it.Name), q)
	})
}

// LowStock lists items with stock at or below threshold, lowest first.
func (c *Catalog) LowStock(threshold int) []Item {
	out := c.filter(func(it Item) bool { return it.Stock <= threshold })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Stock < out[j].Stock })
	return out
}

func (c *Catalog) filter(keep func(Item) bool) []Item {
	if c == nil {
		return nil
	}
	out := make([]Item, 0, len(c.order))
	for _, id := range c.order {
		if it := c.items[id]; keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// WithStock returns a copy where each listed item has the given stock.
func (c *Catalog) WithStock(stock map[int64]int) *Catalog {
	next := c.clone()
	for id, qty := range stock {
		if it, ok := next.items[id]; ok {
			it.Stock = qty
			next.items[id] = it
		}
	}
	return next
}

// WithItem returns a copy with item inserted or replaced.
func (c *Catalog) WithItem(item Item) *Catalog {
	next := c.clone()
	if _, ok := next.items[item.ID]; !ok {
		next.order = append(next.order, item.ID)
	}
	next.items[item.ID] = item
	return next
}

// Without returns a copy with the item removed.
func (c *Catalog) Without(id int64) *Catalog {
	next := c.clone()
	if _, ok := next.items[id]; !ok {
		return next
	}
	delete(next.items, id)
	order := next.order[:0]
	for _, v := range next.order {
		if v != id {
			order = append(order, v)
		}
	}
	next.order = order
	return next
}

// SameContent reports whether both snapshots hold identical items in the same order.
func (c *Catalog) SameContent(other *Catalog) bool {
	if c.Len() != other.Len() {
		return false
	}
	if c.Len() == 0 {
		return true
	}
	for i, id := range c.order {
		if other.order[i] != id {
			return false
		}
		a, b := c.items[id], other.items[id]
		if a.Name != b.Name || a.Category != b.Category || !a.Price.Equal(b.Price) ||
			a.Stock != b.Stock || a.ImageURL != b.ImageURL {
			return false
		}
	}
	return true
}

func (c *Catalog) clone() *Catalog {
	if c == nil {
		return &Catalog{items: map[int64]Item{}, version: 1}
	}
	next := &Catalog{
		items:    make(map[int64]Item, len(c.items)),
		order:    make([]int64, len(c.order)),
		version:  c.version + 1,
		loadedAt: c.loadedAt,
	}
	copy(next.order, c.order)
	for id, it := range c.items {
		next.items[id] = it
	}
	return next
}
