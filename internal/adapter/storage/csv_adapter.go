package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rl1809/storefront/internal/port"
)

// csvCodec converts between CSV text with a header row and a port.Sheet.
type csvCodec struct {
	comma rune
}

func newCSVCodec(comma rune) csvCodec {
	if comma == 0 {
		comma = ','
	}
	return csvCodec{comma: comma}
}

func (c csvCodec) decode(r io.Reader) (*port.Sheet, error) {
	reader := csv.NewReader(r)
	reader.Comma = c.comma
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return &port.Sheet{}, nil
	}
	return sheetFromRecords(records), nil
}

func (c csvCodec) encode(w io.Writer, sheet *port.Sheet) error {
	writer := csv.NewWriter(w)
	writer.Comma = c.comma
	if err := writer.WriteAll(recordsFromSheet(sheet)); err != nil {
		return err
	}
	return writer.Error()
}

// render encodes sheet and checks the bytes decode back to the same shape.
func (c csvCodec) render(sheet *port.Sheet) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.encode(&buf, sheet); err != nil {
		return nil, err
	}
	got, err := c.decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, err
	}
	if err := sameShape(sheet, got); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CSVAdapter reads and writes the catalog as a CSV file with a header row.
type CSVAdapter struct {
	path  string
	codec csvCodec
}

func NewCSVAdapter(path string, comma rune) *CSVAdapter {
	return &CSVAdapter{path: path, codec: newCSVCodec(comma)}
}

func (c *CSVAdapter) Name() string {
	return "csv:" + c.path
}

func (c *CSVAdapter) Fetch(ctx context.Context) (*port.Sheet, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.codec.decode(f)
}

func (c *CSVAdapter) Store(ctx context.Context, sheet *port.Sheet) error {
	return replaceFile(ctx, c.path,
		func(w io.Writer) error {
			return c.codec.encode(w, sheet)
		},
		func(tmpPath string) error {
			f, err := os.Open(tmpPath)
			if err != nil {
				return err
			}
			defer f.Close()
			got, err := c.codec.decode(f)
			if err != nil {
				return err
			}
			return sameShape(sheet, got)
		},
	)
}

// sheetFromRecords treats the first record as the header.
func sheetFromRecords(records [][]string) *port.Sheet {
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	sheet := &port.Sheet{Columns: header}
	for i, rec := range records[1:] {
		values := make(map[string]string, len(header))
		for j, col := range header {
			if j < len(rec) {
				values[col] = rec[j]
			}
		}
		sheet.Rows = append(sheet.Rows, port.Row{Line: i + 2, Values: values})
	}
	return sheet
}

func recordsFromSheet(sheet *port.Sheet) [][]string {
	records := make([][]string, 0, len(sheet.Rows)+1)
	records = append(records, append([]string(nil), sheet.Columns...))
	for _, r := range sheet.Rows {
		rec := make([]string, len(sheet.Columns))
		for j, col := range sheet.Columns {
			rec[j] = r.Values[col]
		}
		records = append(records, rec)
	}
	return records
}

func sameShape(want, got *port.Sheet) error {
	if len(got.Rows) != len(want.Rows) {
		return fmt.Errorf("%w: wrote %d rows, read back %d", ErrRowCountMismatch, len(want.Rows), len(got.Rows))
	}
	if len(got.Columns) != len(want.Columns) {
		return fmt.Errorf("%w: wrote %d columns, read back %d", ErrRowCountMismatch, len(want.Columns), len(got.Columns))
	}
	return nil
}
