package storage

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/rl1809/storefront/internal/port"
)

const defaultSheetName = "Sheet1"

// XLSXAdapter keeps the catalog on one worksheet of an Excel workbook, header
// in the first row. An empty sheet name means the first worksheet.
type XLSXAdapter struct {
	path  string
	sheet string
}

func NewXLSXAdapter(path, sheet string) *XLSXAdapter {
	return &XLSXAdapter{path: path, sheet: sheet}
}

func (x *XLSXAdapter) Name() string {
	return "xlsx:" + x.path
}

func (x *XLSXAdapter) Fetch(ctx context.Context) (*port.Sheet, error) {
	return readWorkbook(x.path, x.sheet)
}

func readWorkbook(path, sheet string) (*port.Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	name := sheet
	if name == "" {
		list := f.GetSheetList()
		if len(list) == 0 {
			return &port.Sheet{}, nil
		}
		name = list[0]
	}

	// Raw values, so number formats like "#,##0.00" do not leak into prices.
	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}
	if len(rows) == 0 {
		return &port.Sheet{}, nil
	}
	return sheetFromRecords(rows), nil
}

// Store rewrites the workbook with the catalog as its only worksheet, keeping
// the worksheet name.
func (x *XLSXAdapter) Store(ctx context.Context, sheet *port.Sheet) error {
	name := x.targetSheet()
	return replaceFile(ctx, x.path,
		func(w io.Writer) error {
			f, err := render(name, sheet)
			if err != nil {
				return err
			}
			defer f.Close()
			return f.Write(w)
		},
		func(tmpPath string) error {
			got, err := readWorkbook(tmpPath, name)
			if err != nil {
				return err
			}
			return sameShape(sheet, got)
		},
	)
}

func (x *XLSXAdapter) targetSheet() string {
	if x.sheet != "" {
		return x.sheet
	}
	if f, err := excelize.OpenFile(x.path); err == nil {
		defer f.Close()
		if list := f.GetSheetList(); len(list) > 0 {
			return list[0]
		}
	}
	return defaultSheetName
}

func render(name string, sheet *port.Sheet) (*excelize.File, error) {
	f := excelize.NewFile()
	if name != defaultSheetName {
		if err := f.SetSheetName(defaultSheetName, name); err != nil {
			f.Close()
			return nil, err
		}
	}

	header := make([]any, len(sheet.Columns))
	for i, c := range sheet.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		f.Close()
		return nil, err
	}

	for i, r := range sheet.Rows {
		cells := make([]any, len(sheet.Columns))
		for j, col := range sheet.Columns {
			cells[j] = cellValue(col, r.Values[col])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetSheetRow(name, cell, &cells); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// cellValue stores numeric columns as numbers so the sheet stays editable.
func cellValue(column, raw string) any {
	switch column {
	case "id", "stock":
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return v
		}
	case "price":
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return raw
}
