package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

var requiredColumns = []string{"id", "price", "stock"}

// rowProblem is a row dropped during parsing.
type rowProblem struct {
	Line   int
	Reason string
}

// parseSheet turns raw rows into catalog items. Missing required columns fail
// the whole sheet; bad rows are dropped and reported.
func parseSheet(sheet *port.Sheet) ([]domain.Item, []rowProblem, error) {
	if sheet == nil {
		return nil, nil, fmt.Errorf("%w: empty source", domain.ErrSchema)
	}

	columns := make(map[string]string, len(sheet.Columns))
	for _, c := range sheet.Columns {
		columns[normalizeColumn(c)] = c
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, nil, fmt.Errorf("%w: missing required column %q", domain.ErrSchema, name)
		}
	}

	get := func(row port.Row, name string) string {
		key, ok := columns[name]
		if !ok {
			return ""
		}
		return strings.TrimSpace(row.Values[key])
	}

	var (
		items    []domain.Item
		problems []rowProblem
		seen     = make(map[int64]int)
	)
	for _, row := range sheet.Rows {
		if blankRow(row) {
			continue
		}

		id, err := parseWhole(get(row, "id"))
		if err != nil {
			problems = append(problems, rowProblem{row.Line, fmt.Sprintf("invalid id %q", get(row, "id"))})
			continue
		}
		if id <= 0 {
			problems = append(problems, rowProblem{row.Line, fmt.Sprintf("non-positive id %d", id)})
			continue
		}
		if first, dup := seen[id]; dup {
			problems = append(problems, rowProblem{row.Line, fmt.Sprintf("duplicate id %d (first seen on line %d)", id, first)})
			continue
		}

		price := decimal.Zero
		if raw := get(row, "price"); raw != "" {
			price, err = decimal.NewFromString(raw)
			if err != nil {
				problems = append(problems, rowProblem{row.Line, fmt.Sprintf("non-numeric price %q", raw)})
				continue
			}
		}
		if price.IsNegative() {
			problems = append(problems, rowProblem{row.Line, "negative price"})
			continue
		}

		var stock int64
		if raw := get(row, "stock"); raw != "" {
			stock, err = parseWhole(raw)
			if err != nil {
				problems = append(problems, rowProblem{row.Line, fmt.Sprintf("non-numeric stock %q", raw)})
				continue
			}
		}
		if stock < 0 {
			problems = append(problems, rowProblem{row.Line, "negative stock"})
			continue
		}

		seen[id] = row.Line
		items = append(items, domain.Item{
			ID:       id,
			Name:     get(row, "name"),
			Category: get(row, "category"),
			Price:    price,
			Stock:    int(stock),
			ImageURL: get(row, "image_url"),
		}.Normalize())
	}

	return items, problems, nil
}

// encodeSheet renders a snapshot in the canonical column order.
func encodeSheet(catalog *domain.Catalog) *port.Sheet {
	items := catalog.Items()
	sheet := &port.Sheet{
		Columns: append([]string(nil), port.CatalogColumns...),
		Rows:    make([]port.Row, 0, len(items)),
	}
	for i, it := range items {
		sheet.Rows = append(sheet.Rows, port.Row{
			Line: i + 2,
			Values: map[string]string{
				"id":        strconv.FormatInt(it.ID, 10),
				"name":      it.Name,
				"category":  it.Category,
				"price":     it.Price.String(),
				"stock":     strconv.Itoa(it.Stock),
				"image_url": it.ImageURL,
			},
		})
	}
	return sheet
}

func normalizeColumn(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

// parseWhole accepts "12" as well as spreadsheet renderings like "12.0".
func parseWhole(raw string) (int64, error) {
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("%q is not a whole number", raw)
	}
	return d.IntPart(), nil
}

func blankRow(row port.Row) bool {
	for _, v := range row.Values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
