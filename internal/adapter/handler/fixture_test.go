package handler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

const testCatalogCSV = `id,name,category,price,stock,image_url
1,Mug,Dishes,100,2,
2,Green tea,Tea,40.50,10,https://example.com/tea.png
3,Black tea,Tea,35,0,
`

type testEnv struct {
	shop    *service.Shop
	catalog *service.CatalogStore
	path    string
}

// setupTestEnv builds a shop over a CSV catalog in a temp dir.
func setupTestEnv(t *testing.T, policy domain.DeductionPolicy) *testEnv {
	t.Helper()
	log := zaptest.NewLogger(t)

	path := filepath.Join(t.TempDir(), "catalog.csv")
	require.NoError(t, os.WriteFile(path, []byte(testCatalogCSV), 0o644))

	catalog := service.NewCatalogStore(storage.NewCSVAdapter(path, ','), service.WithCatalogLogger(log))
	_, err := catalog.Load(context.Background())
	require.NoError(t, err)

	ledger := service.NewOrderLedger(catalog, policy, service.WithLedgerLogger(log))
	shop := service.NewShop(catalog, service.NewCartManager(log), ledger,
		service.WithIdempotency(storage.NewMemoryIdempotency(time.Hour)),
		service.WithShopLogger(log),
	)
	return &testEnv{shop: shop, catalog: catalog, path: path}
}
