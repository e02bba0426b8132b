package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryExclusion(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	release, err := m.TryAcquire(ctx, "pipeline/1", time.Minute)
	require.NoError(t, err)

	_, err = m.TryAcquire(ctx, "pipeline/1", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	// a different key is independent
	other, err := m.TryAcquire(ctx, "pipeline/2", time.Minute)
	require.NoError(t, err)
	other()

	release()
	release() // double release is a no-op

	release2, err := m.TryAcquire(ctx, "pipeline/1", time.Minute)
	require.NoError(t, err)
	release2()
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.TryAcquire(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	release, err := m.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err, "expired hold should be reclaimable")
	release()
}

func TestMemoryAcquireBlocks(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	release, err := m.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	go func() {
		time.Sleep(150 * time.Millisecond)
		release()
	}()

	start := time.Now()
	release2, err := m.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	release2()
}

func TestMemoryAcquireContextCancel(t *testing.T) {
	m := NewMemory()
	_, err := m.TryAcquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func newRedisLock(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisWithClient(client), mr
}

func TestRedisExclusion(t *testing.T) {
	r, _ := newRedisLock(t)
	ctx := context.Background()

	release, err := r.TryAcquire(ctx, "pipeline/1", time.Minute)
	require.NoError(t, err)

	_, err = r.TryAcquire(ctx, "pipeline/1", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	release()

	release2, err := r.TryAcquire(ctx, "pipeline/1", time.Minute)
	require.NoError(t, err)
	release2()
}

func TestRedisStaleReleaseIsNoop(t *testing.T) {
	r, mr := newRedisLock(t)
	ctx := context.Background()

	staleRelease, err := r.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// simulate TTL expiry and re-acquisition by another holder
	mr.FastForward(2 * time.Minute)
	_, err = r.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	staleRelease()

	// the new holder's lock must survive the stale release
	_, err = r.TryAcquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)
}
