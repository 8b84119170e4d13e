package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewLimiter(Params{Redis: rdb, Log: zap.NewNop()}), mr
}

func TestAllowWithinWindow(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, limiter.Allow(ctx, "coupon", "user_1", 5, time.Minute))
	}
	require.False(t, limiter.Allow(ctx, "coupon", "user_1", 5, time.Minute))

	// Another key has its own window.
	require.True(t, limiter.Allow(ctx, "coupon", "user_2", 5, time.Minute))
}

func TestWindowResets(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, limiter.Allow(ctx, "coupon", "user_1", 5, time.Minute))
	}
	require.False(t, limiter.Allow(ctx, "coupon", "user_1", 5, time.Minute))

	mr.FastForward(61 * time.Second)
	require.True(t, limiter.Allow(ctx, "coupon", "user_1", 5, time.Minute))
}
