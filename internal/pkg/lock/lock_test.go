package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockers(t *testing.T) map[string]Locker {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Locker{
		"memory": NewMemory(),
		"redis":  NewRedis(client, time.Minute),
	}
}

func TestLockMutualExclusion(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			var (
				inside  int64
				overlap atomic.Bool
				wg      sync.WaitGroup
			)
			ctx := context.Background()

			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 5; j++ {
						unlock, err := l.Lock(ctx, SubscriptionKey("sub_1"))
						if err != nil {
							t.Errorf("lock: %v", err)
							return
						}
						if atomic.AddInt64(&inside, 1) > 1 {
							overlap.Store(true)
						}
						time.Sleep(50 * time.Microsecond)
						atomic.AddInt64(&inside, -1)
						unlock()
					}
				}()
			}
			wg.Wait()

			assert.False(t, overlap.Load(), "critical sections overlapped")
		})
	}
}

func TestLockRespectsContext(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			unlock, err := l.Lock(context.Background(), CustomerKey("cus_1"))
			require.NoError(t, err)
			defer unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			_, err = l.Lock(ctx, CustomerKey("cus_1"))
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestLockKeysAreIndependent(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, err := l.Lock(ctx, SubscriptionKey("a"))
			require.NoError(t, err)
			defer a()

			b, err := l.Lock(ctx, SubscriptionKey("b"))
			require.NoError(t, err)
			b()
		})
	}
}

func TestUnlockIsIdempotent(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			unlock, err := l.Lock(ctx, "k")
			require.NoError(t, err)
			unlock()
			unlock()

			again, err := l.Lock(ctx, "k")
			require.NoError(t, err)
			again()
		})
	}
}

func TestRedisLockReleaseKeepsForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	l := NewRedis(client, time.Minute)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	// Simulate expiry and takeover by another holder.
	require.NoError(t, mr.Set("k", "someone-else"))
	unlock()

	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
