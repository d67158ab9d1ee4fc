package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryIdempotency is the in-process fallback used when no Redis is
// configured. Keys expire after ttl.
type MemoryIdempotency struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	keys map[string]time.Time
}

func NewMemoryIdempotency(ttl time.Duration) *MemoryIdempotency {
	if ttl <= 0 {
		ttl = idempotencyKeyTTL
	}
	return &MemoryIdempotency{ttl: ttl, now: time.Now, keys: make(map[string]time.Time)}
}

func (m *MemoryIdempotency) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.keys[key] = now.Add(m.ttl)
	m.sweep(now)
	return true, nil
}

func (m *MemoryIdempotency) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
	return nil
}

// sweep drops expired keys once the map grows. Callers hold mu.
func (m *MemoryIdempotency) sweep(now time.Time) {
	if len(m.keys) < 1024 {
		return
	}
	for k, exp := range m.keys {
		if !now.Before(exp) {
			delete(m.keys, k)
		}
	}
}
