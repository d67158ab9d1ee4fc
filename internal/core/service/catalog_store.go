package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const defaultPersistTimeout = 5 * time.Second

// LoadStats summarises a successful load.
type LoadStats struct {
	Source     string
	Items      int
	Dropped    int
	Categories int
	Version    int64
	Changed    bool
	Duration   time.Duration
}

// BatchOptions tune AdjustBatch.
type BatchOptions struct {
	// SkipMissing ignores adjustments for ids no longer in the catalog.
	SkipMissing bool
}

type CatalogOption func(*CatalogStore)

func WithCatalogLogger(log *zap.Logger) CatalogOption {
	return func(s *CatalogStore) {
		if log != nil {
			s.log = log
		}
	}
}

// WithPersistTimeout bounds every write to the source.
func WithPersistTimeout(d time.Duration) CatalogOption {
	return func(s *CatalogStore) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

func WithCatalogRecorder(r Recorder) CatalogOption {
	return func(s *CatalogStore) {
		if r != nil {
			s.rec = r
		}
	}
}

// CatalogStore owns the authoritative catalog snapshot. Readers load the
// current snapshot without locking; all writers (load, stock adjustments and
// admin edits) are serialized by mu, which is held across the persistence
// call so the source and the snapshot never diverge.
type CatalogStore struct {
	source         port.CatalogSource
	log            *zap.Logger
	rec            Recorder
	persistTimeout time.Duration

	mu   sync.Mutex
	snap atomic.Pointer[domain.Catalog]
}

func NewCatalogStore(source port.CatalogSource, opts ...CatalogOption) *CatalogStore {
	s := &CatalogStore{
		source:         source,
		log:            zap.NewNop(),
		rec:            NopRecorder(),
		persistTimeout: defaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snap.Store(domain.NewCatalog(nil, 0, time.Time{}))
	return s
}

// Snapshot returns the current immutable catalog.
func (s *CatalogStore) Snapshot() *domain.Catalog {
	return s.snap.Load()
}

// Load reads the whole source and replaces the snapshot. On any failure the
// previous snapshot stays in place.
func (s *CatalogStore) Load(ctx context.Context) (LoadStats, error) {
	ctx, span := startSpan(ctx, "CatalogStore.Load", attribute.String("catalog.source", s.source.Name()))

	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := s.load(ctx)
	s.rec.CatalogLoaded(s.source.Name(), stats.Items, stats.Dropped, err)
	endSpan(span, err)
	return stats, err
}

// Reload is Load under another name; the scheduler and the admin command use it.
func (s *CatalogStore) Reload(ctx context.Context) (LoadStats, error) {
	return s.Load(ctx)
}

func (s *CatalogStore) load(ctx context.Context) (LoadStats, error) {
	start := time.Now()
	stats := LoadStats{Source: s.source.Name()}

	sheet, err := s.source.Fetch(ctx)
	if err != nil {
		return stats, fmt.Errorf("%w: %s: %w", domain.ErrSourceUnavailable, s.source.Name(), err)
	}

	items, problems, err := parseSheet(sheet)
	if err != nil {
		return stats, err
	}
	for _, p := range problems {
		s.log.Warn("dropping catalog row",
			zap.String("source", s.source.Name()),
			zap.Int("line", p.Line),
			zap.String("reason", p.Reason),
		)
	}
	stats.Dropped = len(problems)
	if len(items) == 0 {
		return stats, fmt.Errorf("%w: %s has no valid rows", domain.ErrSchema, s.source.Name())
	}

	prev := s.snap.Load()
	next := domain.NewCatalog(items, prev.Version()+1, time.Now())
	s.snap.Store(next)

	stats.Items = next.Len()
	stats.Categories = len(next.Categories())
	stats.Version = next.Version()
	stats.Changed = !prev.SameContent(next)
	stats.Duration = time.Since(start)
	s.log.Info("catalog loaded",
		zap.String("source", stats.Source),
		zap.Int("items", stats.Items),
		zap.Int("dropped", stats.Dropped),
		zap.Int64("version", stats.Version),
		zap.Bool("changed", stats.Changed),
		zap.Duration("took", stats.Duration),
	)
	return stats, nil
}

// AdjustStock changes one item's stock by delta and persists the result.
func (s *CatalogStore) AdjustStock(ctx context.Context, itemID int64, delta int) (domain.Item, error) {
	items, err := s.AdjustBatch(ctx, []domain.Adjustment{{ItemID: itemID, Delta: delta}}, BatchOptions{})
	if err != nil {
		return domain.Item{}, err
	}
	return items[0], nil
}

// AdjustBatch applies all adjustments or none of them, with a single persist.
// It fails with *domain.MissingItemError for an unknown id (unless
// SkipMissing) and *domain.StockError when an item would go negative.
// Repeated ids are summed. The updated items are returned in ascending id
// order.
func (s *CatalogStore) AdjustBatch(ctx context.Context, adjustments []domain.Adjustment, opts BatchOptions) ([]domain.Item, error) {
	ctx, span := startSpan(ctx, "CatalogStore.AdjustBatch", attribute.Int("catalog.adjustments", len(adjustments)))

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.adjust(ctx, adjustments, opts)
	s.rec.StockAdjusted(adjustOutcome(err))
	endSpan(span, err)
	return items, err
}

func (s *CatalogStore) adjust(ctx context.Context, adjustments []domain.Adjustment, opts BatchOptions) ([]domain.Item, error) {
	cur := s.snap.Load()

	deltas := make(map[int64]int, len(adjustments))
	for _, a := range adjustments {
		deltas[a.ItemID] += a.Delta
	}
	ids := make([]int64, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	stock := make(map[int64]int, len(ids))
	applied := make([]int64, 0, len(ids))
	for _, id := range ids {
		it, ok := cur.Item(id)
		if !ok {
			if opts.SkipMissing {
				s.log.Warn("skipping stock adjustment for missing item", zap.Int64("item_id", id))
				continue
			}
			return nil, &domain.MissingItemError{ItemID: id}
		}
		next := it.Stock + deltas[id]
		if next < 0 {
			return nil, &domain.StockError{ItemID: id, Requested: -deltas[id], Available: it.Stock}
		}
		stock[id] = next
		applied = append(applied, id)
	}
	if len(applied) == 0 {
		return nil, nil
	}

	next := cur.WithStock(stock)
	if err := s.persist(ctx, next); err != nil {
		return nil, err
	}
	s.snap.Store(next)

	out := make([]domain.Item, 0, len(applied))
	for _, id := range applied {
		it, _ := next.Item(id)
		out = append(out, it)
		s.log.Debug("stock adjusted",
			zap.Int64("item_id", id),
			zap.Int("delta", deltas[id]),
			zap.Int("stock", it.Stock),
		)
	}
	return out, nil
}

// UpsertItem inserts or replaces an item.
func (s *CatalogStore) UpsertItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	item = item.Normalize()
	if err := item.Validate(); err != nil {
		return domain.Item{}, err
	}

	ctx, span := startSpan(ctx, "CatalogStore.UpsertItem", attribute.Int64("catalog.item_id", item.ID))
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snap.Load().WithItem(item)
	err := s.persist(ctx, next)
	if err == nil {
		s.snap.Store(next)
		s.log.Info("catalog item saved", zap.Int64("item_id", item.ID), zap.Int("stock", item.Stock))
	}
	endSpan(span, err)
	return item, err
}

// DeleteItem removes an item. Carts and orders referring to it are left alone;
// they see it as missing from then on.
func (s *CatalogStore) DeleteItem(ctx context.Context, itemID int64) error {
	ctx, span := startSpan(ctx, "CatalogStore.DeleteItem", attribute.Int64("catalog.item_id", itemID))
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.deleteItem(ctx, itemID)
	endSpan(span, err)
	return err
}

func (s *CatalogStore) deleteItem(ctx context.Context, itemID int64) error {
	cur := s.snap.Load()
	if _, ok := cur.Item(itemID); !ok {
		return &domain.MissingItemError{ItemID: itemID}
	}
	next := cur.Without(itemID)
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.snap.Store(next)
	s.log.Info("catalog item deleted", zap.Int64("item_id", itemID))
	return nil
}

// persist writes next to the source under the persist timeout. Callers hold mu.
func (s *CatalogStore) persist(ctx context.Context, next *domain.Catalog) error {
	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()

	if err := s.source.Store(ctx, encodeSheet(next)); err != nil {
		s.log.Error("failed to persist catalog",
			zap.String("source", s.source.Name()),
			zap.Int64("version", next.Version()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, s.source.Name(), err)
	}
	return nil
}

// Item returns the item or ErrItemNotFound.
func (s *CatalogStore) Item(itemID int64) (domain.Item, error) {
	it, ok := s.Snapshot().Item(itemID)
	if !ok {
		return domain.Item{}, fmt.Errorf("%w: id %d", domain.ErrItemNotFound, itemID)
	}
	return it, nil
}

func (s *CatalogStore) Categories() []string {
	return s.Snapshot().Categories()
}

func (s *CatalogStore) ByCategory(category string) []domain.Item {
	return s.Snapshot().ByCategory(category)
}

func (s *CatalogStore) Search(query string) []domain.Item {
	return s.Snapshot().Search(query)
}

func (s *CatalogStore) LowStock(threshold int) []domain.Item {
	return s.Snapshot().LowStock(threshold)
}

func adjustOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, domain.ErrInsufficientStock):
		return OutcomeInsufficient
	case errors.Is(err, domain.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, domain.ErrPersistence):
		return OutcomePersistFail
	}
	return OutcomeInvalid
}
