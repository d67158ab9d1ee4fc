package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	DefaultItemName = "Без названия"
	DefaultCategory = "Разное"
)

// Item is one catalog row.
type Item struct {
	ID       int64
	Name     string
	Category string
	Price    decimal.Decimal
	Stock    int
	ImageURL string
}

// Normalize fills blank optional fields with their sentinel values.
func (i Item) Normalize() Item {
	i.Name = strings.TrimSpace(i.Name)
	i.Category = strings.TrimSpace(i.Category)
	i.ImageURL = strings.TrimSpace(i.ImageURL)
	if i.Name == "" {
		i.Name = DefaultItemName
	}
	if i.Category == "" {
		i.Category = DefaultCategory
	}
	return i
}

// Validate checks the item invariants.
func (i Item) Validate() error {
	if i.ID <= 0 {
		return fmt.Errorf("%w: id must be positive, got %d", ErrInvalidItem, i.ID)
	}
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if i.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidItem)
	}
	if i.Stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidItem)
	}
	return nil
}

// InStock reports whether at least one unit is available.
func (i Item) InStock() bool {
	return i.Stock > 0
}

// Adjustment is a signed stock change for one item.
type Adjustment struct {
	ItemID int64
	Delta  int
}
