// Package ratelimit implements a redis fixed-window rate limiter.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// windowScript counts the request and stamps the window TTL on first use,
// in one round trip.
var windowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return count
`)

type Limiter struct {
	rdb *redis.Client
	log *zap.Logger
}

type Params struct {
	fx.In

	Redis *redis.Client
	Log   *zap.Logger
}

func NewLimiter(p Params) *Limiter {
	return &Limiter{
		rdb: p.Redis,
		log: p.Log.Named("ratelimit"),
	}
}

// Allow reports whether the caller identified by key may proceed under a
// limit of max requests per window. Redis failures fail open; the limiter
// protects a convenience endpoint, not a security boundary.
func (l *Limiter) Allow(ctx context.Context, name, key string, max int, window time.Duration) bool {
	redisKey := fmt.Sprintf("ratelimit:%s:%s", name, key)
	seconds := int(window / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	count, err := windowScript.Run(ctx, l.rdb, []string{redisKey}, seconds).Int64()
	if err != nil {
		l.log.Warn("rate limit check failed", zap.String("key", redisKey), zap.Error(err))
		return true
	}
	return count <= int64(max)
}

var Module = fx.Module("ratelimit",
	fx.Provide(NewLimiter),
)
