// Package lock serializes pipeline mutation. Binding an event build to a
// pipeline is an edit-then-start sequence; the lock keeps two concurrent
// events for the same pipeline from interleaving those steps.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired is returned when the lock is already held.
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker grants exclusive, TTL-bounded ownership of a named resource.
// Acquire blocks until the lock is obtained, the context is cancelled, or
// the attempt budget runs out. The returned release function is safe to
// call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

const retryInterval = 100 * time.Millisecond

// Memory is a process-local Locker for single-instance deployments and
// tests.
type Memory struct {
	mu    sync.Mutex
	holds map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{holds: make(map[string]time.Time)}
}

func (m *Memory) TryAcquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if deadline, held := m.holds[key]; held && time.Now().Before(deadline) {
		return nil, ErrNotAcquired
	}
	m.holds[key] = time.Now().Add(ttl)

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.holds, key)
			m.mu.Unlock()
		})
	}
	return release, nil
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		release, err := m.TryAcquire(ctx, key, ttl)
		if err == nil {
			return release, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}
