package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/rl1809/storefront/internal/core/domain"
)

func loadedStore(t *testing.T, src *memSource, opts ...CatalogOption) *CatalogStore {
	t.Helper()
	opts = append([]CatalogOption{WithCatalogLogger(zaptest.NewLogger(t))}, opts...)
	store := NewCatalogStore(src, opts...)
	_, err := store.Load(context.Background())
	require.NoError(t, err)
	return store
}

func TestCatalogStore_Load(t *testing.T) {
	src := newMemSource(sheetOf(
		[]string{" ID ", "Name", "category", "PRICE", "stock"},
		[]string{"1", "Mug", "Dishes", "100", "2"},
		[]string{"2", "", "", "12.5", "3.0"},
		[]string{"", "", "", "", ""},
		[]string{"1", "Dup", "Dishes", "1", "1"},
		[]string{"0", "Zero", "", "1", "1"},
		[]string{"x", "Bad id", "", "1", "1"},
		[]string{"4", "Bad price", "", "abc", "1"},
		[]string{"5", "Negative", "", "1", "-2"},
		[]string{"6", "Fraction", "", "1", "1.5"},
		[]string{"7", "Free", "", "", ""},
	))
	store := NewCatalogStore(src, WithCatalogLogger(zaptest.NewLogger(t)))

	stats, err := store.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Items)
	assert.Equal(t, 6, stats.Dropped)
	assert.Equal(t, int64(1), stats.Version)
	assert.True(t, stats.Changed)

	it, err := store.Item(2)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultItemName, it.Name)
	assert.Equal(t, domain.DefaultCategory, it.Category)
	assert.Equal(t, 3, it.Stock)
	assert.True(t, decimal.RequireFromString("12.5").Equal(it.Price))

	it, err = store.Item(7)
	require.NoError(t, err)
	assert.True(t, it.Price.IsZero())
	assert.Equal(t, 0, it.Stock)

	_, err = store.Item(4)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestCatalogStore_ReloadUnchangedSourceKeepsContent(t *testing.T) {
	src := newMemSource(stdSheet())
	store := loadedStore(t, src)
	before := store.Snapshot()

	stats, err := store.Reload(context.Background())
	require.NoError(t, err)

	assert.False(t, stats.Changed)
	assert.True(t, before.SameContent(store.Snapshot()))
	assert.Greater(t, store.Snapshot().Version(), before.Version())
}

func TestCatalogStore_ReloadMissingPriceColumn(t *testing.T) {
	src := newMemSource(stdSheet())
	store := loadedStore(t, src)
	before := store.Snapshot()

	src.setSheet(sheetOf([]string{"id", "name", "stock"}, []string{"1", "Mug", "5"}))
	_, err := store.Reload(context.Background())

	assert.ErrorIs(t, err, domain.ErrSchema)
	assert.Same(t, before, store.Snapshot())
}

func TestCatalogStore_ReloadNoValidRows(t *testing.T) {
	src := newMemSource(stdSheet())
	store := loadedStore(t, src)

	src.setSheet(sheetOf(stdHeader, []string{"-1", "x", "", "1", "1"}))
	_, err := store.Reload(context.Background())

	assert.ErrorIs(t, err, domain.ErrSchema)
	assert.Equal(t, 3, store.Snapshot().Len())
}

func TestCatalogStore_SourceUnavailable(t *testing.T) {
	src := newMemSource(stdSheet())
	store := loadedStore(t, src)

	src.setFetchErr(errors.New("connection refused"))
	_, err := store.Reload(context.Background())

	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Equal(t, "SOURCE_UNAVAILABLE", domain.Code(err))
	assert.Equal(t, 3, store.Snapshot().Len())
}

func TestCatalogStore_AdjustStock(t *testing.T) {
	src := newMemSource(stdSheet())
	store := loadedStore(t, src)
	ctx := context.Background()

	it, err := store.AdjustStock(ctx, 1, -2)
	require.NoError(t, err)
	assert.Equal(t, 0, it.Stock)
	assert.Equal(t, 0, src.stockOf(1))

	_, err = store.AdjustStock(ctx, 1, -1)
	var stockErr *domain.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.Requested)
	assert.Equal(t, 0, stockErr.Available)

	_, err = store.AdjustStock(ctx, 99, 1)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	it, err = store.AdjustStock(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, it.Stock)
}

func TestCatalogStore_AdjustStockConcurrentOversubscription(t *testing.T) {
	const initialStock = 20
	const totalRequests = 50

	src := newMemSource(sheetOf(stdHeader, []string{"1", "Phone", "Tech", "999", "20", ""}))
	store := loadedStore(t, src)

	var successCount, failCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.AdjustStock(context.Background(), 1, -1); err == nil {
				successCount.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrInsufficientStock)
				failCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(initialStock), successCount.Load())
	assert.Equal(t, int32(totalRequests-initialStock), failCount.Load())
	it, _ := store.Item(1)
	assert.Equal(t, 0, it.Stock)
	assert.Equal(t, 0, src.stockOf(1))
}

func TestCatalogStore_PersistFailureRollsBack(t *testing.T) {
	src := newMemSource(stdSheet())
	store := loadedStore(t, src)
	before := store.Snapshot()

	src.setStoreErr(errors.New("disk full"))
	_, err := store.AdjustStock(context.Background(), 2, -3)

	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Same(t, before, store.Snapshot())
	it, _ := store.Item(2)
	assert.Equal(t, 10, it.Stock)
	assert.Equal(t, 10, src.stockOf(2))
}

func TestCatalogStore_PersistTimeout(t *testing.T) {
	src := newMemSource(stdSheet())
	store := loadedStore(t, src, WithPersistTimeout(20*time.Millisecond))
	src.delay = time.Second

	_, err := store.AdjustStock(context.Background(), 2, -1)

	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	it, _ := store.Item(2)
	assert.Equal(t, 10, it.Stock)
}

func TestCatalogStore_AdjustBatchAllOrNothing(t *testing.T) {
	src := newMemSource(stdSheet())
	store := loadedStore(t, src)
	ctx := context.Background()
	stores := src.stores.Load()

	_, err := store.AdjustBatch(ctx, []domain.Adjustment{{ItemID: 2, Delta: -5}, {ItemID: 1, Delta: -3}}, BatchOptions{})
	var stockErr *domain.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(1), stockErr.ItemID)
	it, _ := store.Item(2)
	assert.Equal(t, 10, it.Stock)
	assert.Equal(t, stores, src.stores.Load())

	items, err := store.AdjustBatch(ctx, []domain.Adjustment{{ItemID: 2, Delta: -5}, {ItemID: 1, Delta: -1}, {ItemID: 2, Delta: -1}}, BatchOptions{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Stock)
	assert.Equal(t, 4, items[1].Stock)
	assert.Equal(t, stores+1, src.stores.Load())
}

func TestCatalogStore_AdjustBatchSkipMissing(t *testing.T) {
	src := newMemSource(stdSheet())
	store := loadedStore(t, src)
	ctx := context.Background()
	adj := []domain.Adjustment{{ItemID: 42, Delta: 1}, {ItemID: 3, Delta: 2}}

	_, err := store.AdjustBatch(ctx, adj, BatchOptions{})
	var missing *domain.MissingItemError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, int64(42), missing.ItemID)

	items, err := store.AdjustBatch(ctx, adj, BatchOptions{SkipMissing: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Stock)
}

func TestCatalogStore_UpsertAndDelete(t *testing.T) {
	src := newMemSource(stdSheet())
	store := loadedStore(t, src)
	ctx := context.Background()

	it, err := store.UpsertItem(ctx, domain.Item{ID: 9, Name: " Spoon ", Price: decimal.NewFromInt(5), Stock: 4})
	require.NoError(t, err)
	assert.Equal(t, "Spoon", it.Name)
	assert.Equal(t, domain.DefaultCategory, it.Category)
	assert.Equal(t, 4, src.stockOf(9))

	_, err = store.UpsertItem(ctx, domain.Item{ID: 10, Name: "Bad", Stock: -1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, store.DeleteItem(ctx, 9))
	assert.Equal(t, -1, src.stockOf(9))
	assert.ErrorIs(t, store.DeleteItem(ctx, 9), domain.ErrItemNotFound)

	src.setStoreErr(errors.New("read-only"))
	assert.ErrorIs(t, store.DeleteItem(ctx, 1), domain.ErrPersistence)
	_, err = store.Item(1)
	assert.NoError(t, err)
}

func TestCatalogStore_Queries(t *testing.T) {
	store := loadedStore(t, newMemSource(stdSheet()))

	assert.Equal(t, []string{"Dishes", "Tea"}, store.Categories())
	assert.Len(t, store.ByCategory("Tea"), 2)
	assert.Len(t, store.Search("tea"), 2)
	low := store.LowStock(2)
	require.Len(t, low, 2)
	assert.Equal(t, int64(3), low[0].ID)
}

func TestCatalogStore_StockNeverNegative(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		initial := rapid.IntRange(0, 20).Draw(rt, "initial")
		deltas := rapid.SliceOfN(rapid.IntRange(-8, 8), 1, 30).Draw(rt, "deltas")

		src := newMemSource(sheetOf(stdHeader, []string{"1", "Item", "", "1", strconv.Itoa(initial), ""}))
		store := NewCatalogStore(src)
		if _, err := store.Load(context.Background()); err != nil {
			rt.Fatalf("load: %v", err)
		}

		want := initial
		for _, d := range deltas {
			_, err := store.AdjustStock(context.Background(), 1, d)
			if want+d < 0 {
				if !errors.Is(err, domain.ErrInsufficientStock) {
					rt.Fatalf("delta %d on %d: expected insufficient stock, got %v", d, want, err)
				}
				continue
			}
			if err != nil {
				rt.Fatalf("delta %d on %d: %v", d, want, err)
			}
			want += d
		}

		it, _ := store.Item(1)
		if it.Stock != want || it.Stock < 0 {
			rt.Fatalf("stock %d, want %d", it.Stock, want)
		}
	})
}
