package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/port"
)

const notifyTimeout = 5 * time.Second

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(log *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

func WithDispatcherRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		if r != nil {
			d.rec = r
		}
	}
}

// Dispatcher hands order events to a notifier on a pool of workers. Publish
// never blocks: when the queue is full the event is dropped.
type Dispatcher struct {
	notifier port.Notifier
	workers  int
	log      *zap.Logger
	rec      Recorder

	mu     sync.RWMutex
	closed bool
	queue  chan port.OrderEvent
	wg     sync.WaitGroup
}

func NewDispatcher(notifier port.Notifier, queueSize, workers int, opts ...DispatcherOption) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	d := &Dispatcher{
		notifier: notifier,
		workers:  workers,
		log:      zap.NewNop(),
		rec:      NopRecorder(),
		queue:    make(chan port.OrderEvent, queueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	d.log.Info("notification workers started", zap.Int("workers", d.workers))
}

// Publish enqueues the event. It returns false if the dispatcher is closed or
// the queue is full.
func (d *Dispatcher) Publish(event port.OrderEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.queue <- event:
		return true
	default:
		d.rec.NotificationDropped()
		d.log.Warn("notification queue full, dropping event",
			zap.String("event_id", event.ID.String()),
			zap.String("type", string(event.Type)),
			zap.Int64("order_id", event.Order.ID),
		)
		return false
	}
}

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.log.Info("notification workers stopped")
}

func (d *Dispatcher) workerLoop(id int) {
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)

		if err := d.notifier.Notify(ctx, event); err != nil {
			d.log.Error("failed to deliver notification",
				zap.Int("worker", id),
				zap.String("event_id", event.ID.String()),
				zap.String("type", string(event.Type)),
				zap.Int64("order_id", event.Order.ID),
				zap.Error(err),
			)
		} else {
			d.log.Debug("notification delivered",
				zap.Int("worker", id),
				zap.String("type", string(event.Type)),
				zap.Int64("order_id", event.Order.ID),
			)
		}

		cancel()
	}
}
