package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reloader refreshes the catalog from its source.
type Reloader interface {
	Reload(ctx context.Context) (LoadStats, error)
}

// SyncStatus describes the last scheduled run.
type SyncStatus struct {
	Runs     int64
	Failures int64
	LastRun  time.Time
	LastErr  error
	Last     LoadStats
}

// SyncScheduler reloads the catalog on a fixed interval. A failed or panicking
// run is logged and the loop carries on.
type SyncScheduler struct {
	reloader Reloader
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	status SyncStatus
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSyncScheduler(reloader Reloader, interval, timeout time.Duration, log *zap.Logger) *SyncScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = interval
	}
	return &SyncScheduler{
		reloader: reloader,
		interval: interval,
		timeout:  timeout,
		log:      log,
	}
}

// Start begins ticking. Calling Start twice is a no-op.
func (s *SyncScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil || s.interval <= 0 {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.log.Info("catalog sync started", zap.Duration("interval", s.interval))
}

// Stop halts the loop and waits for an in-flight run, or until ctx expires.
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		s.log.Info("catalog sync stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SyncScheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reload and records its outcome.
func (s *SyncScheduler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stats, err := s.safeReload(ctx)

	s.mu.Lock()
	s.status.Runs++
	s.status.LastRun = time.Now()
	s.status.LastErr = err
	if err != nil {
		s.status.Failures++
	} else {
		s.status.Last = stats
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("scheduled catalog reload failed", zap.Error(err))
	}
}

func (s *SyncScheduler) safeReload(ctx context.Context) (stats LoadStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reload panicked: %v", r)
		}
	}()
	return s.reloader.Reload(ctx)
}

func (s *SyncScheduler) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
