package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalAllowsBurstThenBlocks(t *testing.T) {
	l := NewLocal()
	rule := Rule{Key: "t:", Limit: 3, Window: time.Hour}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "conn-1", rule)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should pass", i)
	}
	ok, _ := l.Allow(ctx, "conn-1", rule)
	assert.False(t, ok)

	// Other identifiers and rules have their own buckets.
	ok, _ = l.Allow(ctx, "conn-2", rule)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "conn-1", Rule{Key: "other:", Limit: 1, Window: time.Hour})
	assert.True(t, ok)
}

func TestLocalRefills(t *testing.T) {
	l := NewLocal()
	rule := Rule{Key: "t:", Limit: 1, Window: 20 * time.Millisecond}
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "c", rule)
	require.True(t, ok)
	ok, _ = l.Allow(ctx, "c", rule)
	require.False(t, ok)

	assert.Eventually(t, func() bool {
		ok, _ := l.Allow(ctx, "c", rule)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestLocalForget(t *testing.T) {
	l := NewLocal()
	rule := Rule{Key: "t:", Limit: 1, Window: time.Hour}
	ctx := context.Background()

	_, _ = l.Allow(ctx, "c", rule)
	assert.Equal(t, 1, l.Len())
	l.Forget("c")
	assert.Equal(t, 0, l.Len())

	ok, _ := l.Allow(ctx, "c", rule)
	assert.True(t, ok)
}

func TestLocalZeroLimitBlocks(t *testing.T) {
	ok, err := NewLocal().Allow(context.Background(), "c", Rule{Key: "t:"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	rule := Rule{Key: "rl:test:" + t.Name() + ":", Limit: 2, Window: time.Minute}
	t.Cleanup(func() { client.Del(ctx, rule.Key+"c") })

	l := NewRedis(client, zap.NewNop())
	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "c", rule)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "c", rule)
	require.NoError(t, err)
	assert.False(t, ok)

	left, err := l.Remaining(ctx, "c", rule)
	require.NoError(t, err)
	assert.Equal(t, 0, left)
}
