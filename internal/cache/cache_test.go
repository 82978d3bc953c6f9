package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stats struct {
	Points  int64 `json:"points"`
	Reports int64 `json:"reports"`
}

func TestMemory_GetSetExpire(t *testing.T) {
	c := NewMemory()
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	var got stats
	assert.ErrorIs(t, c.Get(ctx, "stats:1", &got), ErrMiss)

	require.NoError(t, c.Set(ctx, "stats:1", stats{Points: 150, Reports: 3}, DefaultTTL))
	require.NoError(t, c.Get(ctx, "stats:1", &got))
	assert.Equal(t, stats{Points: 150, Reports: 3}, got)

	now = now.Add(DefaultTTL)
	assert.ErrorIs(t, c.Get(ctx, "stats:1", &got), ErrMiss)
}

func TestMemory_SweepDropsExpired(t *testing.T) {
	c := NewMemory()
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("user-stats:%d", i), stats{Points: int64(i)}, time.Minute))
	}
	require.NoError(t, c.Set(ctx, "leaderboard:10", []int{1}, time.Hour))

	assert.Zero(t, c.Sweep())
	now = now.Add(time.Minute)
	assert.Equal(t, 100, c.Sweep())
	assert.Len(t, c.items, 1)

	var lb []int
	require.NoError(t, c.Get(ctx, "leaderboard:10", &lb))
}

func TestMemory_RunStopsWithContext(t *testing.T) {
	c := NewMemory()
	require.NoError(t, c.Set(context.Background(), "k", 1, time.Nanosecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Millisecond)
		close(done)
	}()
	assert.Eventually(t, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return len(c.items) == 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestMemory_Delete(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", 1, time.Minute))
	require.NoError(t, c.Set(ctx, "b", 2, time.Minute))
	require.NoError(t, c.Delete(ctx, "a", "b"))

	var n int
	assert.ErrorIs(t, c.Get(ctx, "a", &n), ErrMiss)
	assert.ErrorIs(t, c.Get(ctx, "b", &n), ErrMiss)
}

func TestTTLFromEnv(t *testing.T) {
	t.Setenv("STATS_CACHE_TTL", "")
	assert.Equal(t, DefaultTTL, TTLFromEnv())
	t.Setenv("STATS_CACHE_TTL", "30s")
	assert.Equal(t, 30*time.Second, TTLFromEnv())
}

// Requires a running Redis; skipped otherwise.
func TestRedisCache_RoundTrip(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	c := NewRedis(client)
	key := "test:stats:" + time.Now().Format(time.RFC3339Nano)
	t.Cleanup(func() { _ = c.Delete(ctx, key) })

	require.NoError(t, c.Set(ctx, key, stats{Points: 50}, time.Minute))
	var got stats
	require.NoError(t, c.Get(ctx, key, &got))
	assert.Equal(t, int64(50), got.Points)

	require.NoError(t, c.Delete(ctx, key))
	assert.ErrorIs(t, c.Get(ctx, key, &got), ErrMiss)
}
