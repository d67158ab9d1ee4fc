package port

import "context"

// Catalog columns in write-back order.
var CatalogColumns = []string{"id", "name", "category", "price", "stock", "image_url"}

// Row is one data row of a tabular source keyed by column name.
type Row struct {
	// Line is the 1-based position in the source (header is line 1), used in warnings.
	Line   int
	Values map[string]string
}

// Sheet is the raw content of a tabular source.
type Sheet struct {
	Columns []string
	Rows    []Row
}

// HasColumn reports whether the header contains name.
func (s *Sheet) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// CatalogSource is the persistence driver behind the catalog. Implementations
// may be slow and may fail; Store must leave the previous content intact when
// it fails.
type CatalogSource interface {
	// Fetch reads the whole table.
	Fetch(ctx context.Context) (*Sheet, error)

	// Store replaces the whole table.
	Store(ctx context.Context, sheet *Sheet) error

	// Name identifies the source in logs.
	Name() string
}
