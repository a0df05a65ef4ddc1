package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLimiter_FixedWindow(t *testing.T) {
	stores := map[string]func(t *testing.T, c *clock) (Store, func(time.Duration)){
		"memory": func(t *testing.T, c *clock) (Store, func(time.Duration)) {
			return NewMemoryStore(), func(d time.Duration) { c.now = c.now.Add(d) }
		},
		"redis": func(t *testing.T, c *clock) (Store, func(time.Duration)) {
			mr, client := newTestRedis(t)
			return NewRedisStore(client, "test:"), func(d time.Duration) {
				c.now = c.now.Add(d)
				mr.FastForward(d)
			}
		},
	}

	for name, build := range stores {
		t.Run(name, func(t *testing.T) {
			c := &clock{now: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
			store, advance := build(t, c)

			limiter := NewLimiter(store, 3, time.Minute)
			limiter.SetClock(c.Now)
			ctx := context.Background()

			for i := 1; i <= 3; i++ {
				d, err := limiter.Allow(ctx, "10.0.0.1")
				require.NoError(t, err)
				assert.True(t, d.Allowed, "request %d", i)
				assert.Equal(t, int64(3-i), d.Remaining)
			}

			advance(20 * time.Second)
			d, err := limiter.Allow(ctx, "10.0.0.1")
			require.NoError(t, err)
			assert.False(t, d.Allowed, "fourth request in the window is rejected")
			assert.InDelta(t, 40*time.Second, d.RetryAfter, float64(time.Second))

			other, err := limiter.Allow(ctx, "10.0.0.2")
			require.NoError(t, err)
			assert.True(t, other.Allowed, "keys are counted independently")

			advance(40 * time.Second)
			d, err = limiter.Allow(ctx, "10.0.0.1")
			require.NoError(t, err)
			assert.True(t, d.Allowed, "window resets once it has elapsed")
			assert.Equal(t, int64(1), d.Count)
		})
	}
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Duration, time.Time) (int64, time.Time, error) {
	return 0, time.Time{}, ErrStoreUnavailable
}

func TestLimiter_FailsOpen(t *testing.T) {
	limiter := NewLimiter(failingStore{}, 1, time.Minute)

	for range 5 {
		d, err := limiter.Allow(context.Background(), "k")
		assert.True(t, errors.Is(err, ErrStoreUnavailable))
		assert.True(t, d.Allowed)
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()

	_, _, err := NewRedisStore(client, "").Hit(context.Background(), "k", time.Minute, time.Now())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestRedisStore_SetsWindowTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, "rl:")

	_, _, err := store.Hit(context.Background(), "1.2.3.4", 90*time.Second, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, mr.TTL("rl:1.2.3.4"))
}

func TestMemoryStore_CollectsExpiredWindows(t *testing.T) {
	store := NewMemoryStore()
	start := time.Now()
	ctx := context.Background()

	for i := range memoryGCThreshold {
		_, _, err := store.Hit(ctx, fmt.Sprintf("k-%d", i), time.Second, start)
		require.NoError(t, err)
	}
	require.Equal(t, memoryGCThreshold, store.Len())

	_, _, err := store.Hit(ctx, "fresh", time.Second, start.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}
