package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type mockNotifier struct {
	mu      sync.Mutex
	got     []port.OrderEvent
	fail    atomic.Bool
	block   chan struct{}
	started chan struct{}
}

func (m *mockNotifier) Notify(ctx context.Context, event port.OrderEvent) error {
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}
	if m.fail.Load() {
		return errors.New("webhook down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, event)
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.got)
}

type dropCounter struct {
	nopRecorder
	dropped atomic.Int32
}

func (d *dropCounter) NotificationDropped() { d.dropped.Add(1) }

func orderEvent(id int64, typ port.OrderEventType) port.OrderEvent {
	return port.OrderEvent{ID: uuid.New(), Type: typ, Order: domain.Order{ID: id}, OccurredAt: time.Now()}
}

func TestDispatcher_DeliversAllEvents(t *testing.T) {
	notifier := &mockNotifier{}
	d := NewDispatcher(notifier, 100, 4, WithDispatcherLogger(zaptest.NewLogger(t)))
	d.Start()

	for i := 0; i < 50; i++ {
		require.True(t, d.Publish(orderEvent(int64(i), port.OrderPlaced)))
	}
	d.Close()

	assert.Equal(t, 50, notifier.count())
	assert.False(t, d.Publish(orderEvent(99, port.OrderPlaced)), "closed dispatcher rejects events")
	d.Close()
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	notifier := &mockNotifier{block: make(chan struct{}), started: make(chan struct{}, 1)}
	rec := &dropCounter{}
	d := NewDispatcher(notifier, 1, 1, WithDispatcherRecorder(rec))
	d.Start()

	require.True(t, d.Publish(orderEvent(1, port.OrderPlaced)))
	<-notifier.started
	require.True(t, d.Publish(orderEvent(2, port.OrderPlaced)))
	assert.False(t, d.Publish(orderEvent(3, port.OrderPlaced)))
	assert.Equal(t, int32(1), rec.dropped.Load())

	notifier.started = nil
	close(notifier.block)
	d.Close()
	assert.Equal(t, 2, notifier.count())
}

func TestDispatcher_NotifierErrorsDoNotStopWorkers(t *testing.T) {
	notifier := &mockNotifier{}
	notifier.fail.Store(true)
	d := NewDispatcher(notifier, 10, 1, WithDispatcherLogger(zaptest.NewLogger(t)))
	d.Start()

	d.Publish(orderEvent(1, port.OrderPlaced))
	d.Publish(orderEvent(2, port.OrderCancelled))
	d.Close()

	assert.Equal(t, 0, notifier.count())
}

func TestDispatcher_WiredToLedger(t *testing.T) {
	notifier := &mockNotifier{}
	d := NewDispatcher(notifier, 10, 2)
	d.Start()

	store := loadedStore(t, newMemSource(stdSheet()))
	ledger := NewOrderLedger(store, domain.DeductOnDelivery, WithEventPublisher(d))
	order, err := ledger.Checkout(context.Background(), cartOf("s1", map[int64]int{2: 1}), testContact)
	require.NoError(t, err)
	_, err = ledger.Cancel(context.Background(), order.ID)
	require.NoError(t, err)
	d.Close()

	require.Equal(t, 2, notifier.count())
}
