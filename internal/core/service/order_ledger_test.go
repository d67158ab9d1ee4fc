package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

var testContact = domain.Contact{Phone: "+373 69 123456", Address: "Stefan cel Mare 1, Chisinau"}

type ledgerFixture struct {
	src    *memSource
	store  *CatalogStore
	ledger *OrderLedger
	events *countingPublisher
}

func newLedgerFixture(t *testing.T, policy domain.DeductionPolicy, sheet *port.Sheet) *ledgerFixture {
	t.Helper()
	src := newMemSource(sheet)
	store := loadedStore(t, src)
	events := &countingPublisher{}
	ledger := NewOrderLedger(store, policy,
		WithLedgerLogger(zaptest.NewLogger(t)),
		WithEventPublisher(events),
	)
	return &ledgerFixture{src: src, store: store, ledger: ledger, events: events}
}

func (f *ledgerFixture) stock(t *testing.T, id int64) int {
	t.Helper()
	it, err := f.store.Item(id)
	require.NoError(t, err)
	return it.Stock
}

func cartOf(session string, lines map[int64]int) domain.Cart {
	return domain.Cart{SessionID: session, Lines: lines}
}

func TestOrderLedger_CheckoutConfirmDeliver(t *testing.T) {
	f := newLedgerFixture(t, domain.DeductOnDelivery, sheetOf(stdHeader, []string{"1", "Mug", "Dishes", "100", "2", ""}))
	ctx := context.Background()

	order, err := f.ledger.Checkout(ctx, cartOf("s1", map[int64]int{1: 2}), testContact)
	require.NoError(t, err)
	assert.Equal(t, int64(1), order.ID)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.True(t, decimal.NewFromInt(200).Equal(order.Total))
	assert.False(t, order.StockDeducted)
	assert.Equal(t, 2, f.stock(t, 1), "checkout only validates")

	_, err = f.ledger.Confirm(ctx, order.ID)
	require.NoError(t, err)

	delivered, err := f.ledger.Deliver(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, delivered.Status)
	assert.True(t, delivered.StockDeducted)
	assert.NotNil(t, delivered.DeliveredAt)
	assert.Equal(t, 0, f.stock(t, 1))
	assert.Equal(t, 0, f.src.stockOf(1))

	_, err = f.ledger.Deliver(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 0, f.stock(t, 1), "second deliver deducts nothing")

	assert.Equal(t, []port.OrderEventType{port.OrderPlaced, port.OrderConfirmed, port.OrderDelivered}, f.events.types())
}

func TestOrderLedger_CheckoutRejectsLines(t *testing.T) {
	f := newLedgerFixture(t, domain.DeductOnDelivery, stdSheet())

	order, err := f.ledger.Checkout(context.Background(), cartOf("s1", map[int64]int{1: 3, 2: 2, 99: 1}), testContact)
	require.NoError(t, err)

	require.Len(t, order.Lines, 1)
	assert.Equal(t, int64(2), order.Lines[0].ItemID)
	assert.True(t, decimal.NewFromInt(81).Equal(order.Total))

	require.Len(t, order.Rejections, 2)
	assert.Equal(t, domain.LineRejection{ItemID: 1, Name: "Mug", Requested: 3, Available: 2, Reason: domain.RejectInsufficientStock}, order.Rejections[0])
	assert.Equal(t, int64(99), order.Rejections[1].ItemID)
	assert.Equal(t, domain.RejectNotFound, order.Rejections[1].Reason)
}

func TestOrderLedger_CheckoutFailures(t *testing.T) {
	f := newLedgerFixture(t, domain.DeductOnDelivery, stdSheet())
	ctx := context.Background()

	_, err := f.ledger.Checkout(ctx, cartOf("s1", nil), testContact)
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	_, err = f.ledger.Checkout(ctx, cartOf("s1", map[int64]int{2: 1}), domain.Contact{Phone: "123", Address: "nowhere at all"})
	assert.ErrorIs(t, err, domain.ErrInvalidContact)

	_, err = f.ledger.Checkout(ctx, cartOf("s1", map[int64]int{1: 5, 3: 1}), testContact)
	assert.ErrorIs(t, err, domain.ErrNoValidItems)
	var checkoutErr *domain.CheckoutError
	require.ErrorAs(t, err, &checkoutErr)
	assert.Len(t, checkoutErr.Rejections, 2)

	assert.Empty(t, f.ledger.List())
	assert.Empty(t, f.events.types())
}

func TestOrderLedger_Transitions(t *testing.T) {
	f := newLedgerFixture(t, domain.DeductOnDelivery, stdSheet())
	ctx := context.Background()

	order, err := f.ledger.Checkout(ctx, cartOf("s1", map[int64]int{2: 1}), testContact)
	require.NoError(t, err)

	_, err = f.ledger.Deliver(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "pending cannot be delivered")

	_, err = f.ledger.Confirm(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.ledger.Confirm(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	cancelled, err := f.ledger.Cancel(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 10, f.stock(t, 2))

	_, err = f.ledger.Cancel(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.ledger.Confirm(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = f.ledger.Get(404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderLedger_DeliverStockConflictKeepsOrderConfirmed(t *testing.T) {
	f := newLedgerFixture(t, domain.DeductOnDelivery, sheetOf(stdHeader, []string{"1", "Mug", "Dishes", "100", "2", ""}))
	ctx := context.Background()

	first, err := f.ledger.Checkout(ctx, cartOf("a", map[int64]int{1: 2}), testContact)
	require.NoError(t, err)
	second, err := f.ledger.Checkout(ctx, cartOf("b", map[int64]int{1: 2}), testContact)
	require.NoError(t, err)
	for _, id := range []int64{first.ID, second.ID} {
		_, err = f.ledger.Confirm(ctx, id)
		require.NoError(t, err)
	}

	_, err = f.ledger.Deliver(ctx, first.ID)
	require.NoError(t, err)

	_, err = f.ledger.Deliver(ctx, second.ID)
	assert.ErrorIs(t, err, domain.ErrStockConflict)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	got, err := f.ledger.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, got.Status)
	assert.False(t, got.StockDeducted)
}

func TestOrderLedger_DeliverPersistenceFailure(t *testing.T) {
	f := newLedgerFixture(t, domain.DeductOnDelivery, stdSheet())
	ctx := context.Background()

	order, err := f.ledger.Checkout(ctx, cartOf("s1", map[int64]int{2: 3}), testContact)
	require.NoError(t, err)
	_, err = f.ledger.Confirm(ctx, order.ID)
	require.NoError(t, err)

	f.src.setStoreErr(errors.New("sheet locked"))
	_, err = f.ledger.Deliver(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.NotErrorIs(t, err, domain.ErrStockConflict)

	got, _ := f.ledger.Get(order.ID)
	assert.Equal(t, domain.OrderStatusConfirmed, got.Status)
	assert.Equal(t, 10, f.stock(t, 2))

	f.src.setStoreErr(nil)
	_, err = f.ledger.Deliver(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, f.stock(t, 2))
}

func TestOrderLedger_OnCheckoutPolicy(t *testing.T) {
	f := newLedgerFixture(t, domain.DeductOnCheckout, stdSheet())
	ctx := context.Background()

	order, err := f.ledger.Checkout(ctx, cartOf("s1", map[int64]int{1: 2, 2: 4}), testContact)
	require.NoError(t, err)
	assert.True(t, order.StockDeducted)
	assert.Equal(t, domain.DeductOnCheckout, order.Policy)
	assert.Equal(t, 0, f.stock(t, 1))
	assert.Equal(t, 6, f.stock(t, 2))

	_, err = f.ledger.Confirm(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.ledger.Deliver(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.stock(t, 1), "no second deduction on deliver")
	assert.Equal(t, 6, f.stock(t, 2))
}

func TestOrderLedger_OnCheckoutCancelRestocks(t *testing.T) {
	f := newLedgerFixture(t, domain.DeductOnCheckout, stdSheet())
	ctx := context.Background()

	order, err := f.ledger.Checkout(ctx, cartOf("s1", map[int64]int{1: 1, 2: 2}), testContact)
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteItem(ctx, 1))

	cancelled, err := f.ledger.Cancel(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, cancelled.StockDeducted)
	assert.Equal(t, 10, f.stock(t, 2))
	_, err = f.store.Item(1)
	assert.ErrorIs(t, err, domain.ErrItemNotFound, "deleted item is not resurrected")
}

func TestOrderLedger_OnCheckoutCancelPersistenceFailure(t *testing.T) {
	f := newLedgerFixture(t, domain.DeductOnCheckout, stdSheet())
	ctx := context.Background()

	order, err := f.ledger.Checkout(ctx, cartOf("s1", map[int64]int{2: 2}), testContact)
	require.NoError(t, err)

	f.src.setStoreErr(errors.New("offline"))
	_, err = f.ledger.Cancel(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrPersistence)

	got, _ := f.ledger.Get(order.ID)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
	assert.True(t, got.StockDeducted)
}

func TestOrderLedger_OnCheckoutPersistenceFailureFailsCheckout(t *testing.T) {
	f := newLedgerFixture(t, domain.DeductOnCheckout, stdSheet())
	f.src.setStoreErr(errors.New("offline"))

	_, err := f.ledger.Checkout(context.Background(), cartOf("s1", map[int64]int{2: 1}), testContact)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Empty(t, f.ledger.List())
	assert.Equal(t, 10, f.stock(t, 2))
}

func TestOrderLedger_ReserveMovesLostLinesToRejections(t *testing.T) {
	f := newLedgerFixture(t, domain.DeductOnCheckout, stdSheet())

	lines := []domain.Line{
		{ItemID: 1, Name: "Mug", Quantity: 5},
		{ItemID: 2, Name: "Green tea", Quantity: 1},
		{ItemID: 50, Name: "Gone", Quantity: 1},
	}
	kept, rejections, err := f.ledger.reserve(context.Background(), lines, nil)
	require.NoError(t, err)

	require.Len(t, kept, 1)
	assert.Equal(t, int64(2), kept[0].ItemID)
	require.Len(t, rejections, 2)
	assert.Equal(t, domain.LineRejection{ItemID: 1, Name: "Mug", Requested: 5, Available: 2, Reason: domain.RejectInsufficientStock}, rejections[0])
	assert.Equal(t, domain.RejectNotFound, rejections[1].Reason)
	assert.Equal(t, 9, f.stock(t, 2))
	assert.Equal(t, 2, f.stock(t, 1))
}

func TestOrderLedger_LastUnitRace(t *testing.T) {
	const sessions = 10
	sheet := func() *port.Sheet { return sheetOf(stdHeader, []string{"1", "Last one", "", "100", "1", ""}) }

	t.Run("on_checkout", func(t *testing.T) {
		f := newLedgerFixture(t, domain.DeductOnCheckout, sheet())

		var successCount, rejectedCount atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < sessions; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := f.ledger.Checkout(context.Background(), cartOf(fmt.Sprintf("s%d", i), map[int64]int{1: 1}), testContact)
				switch {
				case err == nil:
					successCount.Add(1)
				case errors.Is(err, domain.ErrNoValidItems):
					rejectedCount.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), successCount.Load())
		assert.Equal(t, int32(sessions-1), rejectedCount.Load())
		assert.Equal(t, 0, f.stock(t, 1))
	})

	t.Run("on_delivery", func(t *testing.T) {
		f := newLedgerFixture(t, domain.DeductOnDelivery, sheet())
		ctx := context.Background()

		var ids []int64
		for i := 0; i < sessions; i++ {
			order, err := f.ledger.Checkout(ctx, cartOf(fmt.Sprintf("s%d", i), map[int64]int{1: 1}), testContact)
			require.NoError(t, err)
			_, err = f.ledger.Confirm(ctx, order.ID)
			require.NoError(t, err)
			ids = append(ids, order.ID)
		}

		var deliveredCount, conflictCount atomic.Int32
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				_, err := f.ledger.Deliver(ctx, id)
				switch {
				case err == nil:
					deliveredCount.Add(1)
				case errors.Is(err, domain.ErrStockConflict):
					conflictCount.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(id)
		}
		wg.Wait()

		assert.Equal(t, int32(1), deliveredCount.Load())
		assert.Equal(t, int32(sessions-1), conflictCount.Load())
		assert.Equal(t, 0, f.stock(t, 1))
	})
}

func TestOrderLedger_Listing(t *testing.T) {
	f := newLedgerFixture(t, domain.DeductOnDelivery, stdSheet())
	ctx := context.Background()

	for _, session := range []string{"a", "b", "a"} {
		_, err := f.ledger.Checkout(ctx, cartOf(session, map[int64]int{2: 1}), testContact)
		require.NoError(t, err)
	}

	a := f.ledger.ListBySession("a")
	require.Len(t, a, 2)
	assert.Equal(t, int64(1), a[0].ID)
	assert.Equal(t, int64(3), a[1].ID)
	assert.Empty(t, f.ledger.ListBySession("zzz"))
	assert.Len(t, f.ledger.List(), 3)

	a[0].Lines[0].Quantity = 42
	got, _ := f.ledger.Get(1)
	assert.Equal(t, 1, got.Lines[0].Quantity)
}
