package service

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/storefront/internal/port"
)

// memSource is an in-memory CatalogSource with switchable failures.
type memSource struct {
	mu       sync.Mutex
	sheet    *port.Sheet
	fetchErr error
	storeErr error
	delay    time.Duration
	stores   atomic.Int32
}

func newMemSource(sheet *port.Sheet) *memSource {
	return &memSource{sheet: sheet}
}

func (m *memSource) Fetch(ctx context.Context) (*port.Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return copySheet(m.sheet), nil
}

func (m *memSource) Store(ctx context.Context, sheet *port.Sheet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.storeErr != nil {
		return m.storeErr
	}
	m.sheet = copySheet(sheet)
	m.stores.Add(1)
	return nil
}

func (m *memSource) Name() string { return "memory" }

func (m *memSource) setFetchErr(err error) {
	m.mu.Lock()
	m.fetchErr = err
	m.mu.Unlock()
}

func (m *memSource) setStoreErr(err error) {
	m.mu.Lock()
	m.storeErr = err
	m.mu.Unlock()
}

func (m *memSource) setSheet(sheet *port.Sheet) {
	m.mu.Lock()
	m.sheet = sheet
	m.mu.Unlock()
}

// stockOf returns the persisted stock cell for id, or -1.
func (m *memSource) stockOf(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.sheet.Rows {
		if r.Values["id"] == strconv.FormatInt(id, 10) {
			n, _ := strconv.Atoi(r.Values["stock"])
			return n
		}
	}
	return -1
}

func copySheet(s *port.Sheet) *port.Sheet {
	if s == nil {
		return nil
	}
	out := &port.Sheet{Columns: append([]string(nil), s.Columns...)}
	for _, r := range s.Rows {
		vals := make(map[string]string, len(r.Values))
		for k, v := range r.Values {
			vals[k] = v
		}
		out.Rows = append(out.Rows, port.Row{Line: r.Line, Values: vals})
	}
	return out
}

// sheetOf builds a sheet from a header and rows of cells.
func sheetOf(header []string, rows ...[]string) *port.Sheet {
	s := &port.Sheet{Columns: header}
	for i, cells := range rows {
		vals := make(map[string]string, len(header))
		for j, c := range cells {
			if j < len(header) {
				vals[header[j]] = c
			}
		}
		s.Rows = append(s.Rows, port.Row{Line: i + 2, Values: vals})
	}
	return s
}

var stdHeader = []string{"id", "name", "category", "price", "stock", "image_url"}

func stdSheet() *port.Sheet {
	return sheetOf(stdHeader,
		[]string{"1", "Mug", "Dishes", "100", "2", ""},
		[]string{"2", "Green tea", "Tea", "40.50", "10", "https://example.com/tea.png"},
		[]string{"3", "Black tea", "Tea", "35", "0", ""},
	)
}

// countingPublisher records published events.
type countingPublisher struct {
	mu     sync.Mutex
	events []port.OrderEvent
}

func (p *countingPublisher) Publish(e port.OrderEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return true
}

func (p *countingPublisher) types() []port.OrderEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]port.OrderEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
