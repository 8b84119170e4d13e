// Package webhookevent keeps the redis bookkeeping that makes webhook
// processing idempotent: a per-event processed marker and a per-subscription
// high-water timestamp used to drop out-of-order deliveries.
package webhookevent

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/searchleads/billing/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Store interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	// IsStale reports whether an event for the subscription with the given
	// creation time has already been superseded by a later one.
	IsStale(ctx context.Context, subscriptionID string, created time.Time) (bool, error)
	// MarkProcessed records the event id and advances the subscription
	// high-water mark. The mark never regresses.
	MarkProcessed(ctx context.Context, eventID, subscriptionID string, created time.Time) error
}

// advanceScript bumps the high-water mark only when the incoming timestamp
// is strictly newer, refreshing the retention TTL either way.
var advanceScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local incoming = tonumber(ARGV[1])
if incoming > current then
  redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
  return 1
end
redis.call('EXPIRE', KEYS[1], ARGV[2])
return 0
`)

type store struct {
	rdb       *redis.Client
	log       *zap.Logger
	retention time.Duration
}

type Params struct {
	fx.In

	Redis *redis.Client
	Log   *zap.Logger
	Cfg   config.Config
}

func NewStore(p Params) Store {
	return &store{
		rdb:       p.Redis,
		log:       p.Log.Named("webhookevent.store"),
		retention: time.Duration(p.Cfg.EventRetentionSeconds) * time.Second,
	}
}

func eventKey(eventID string) string {
	return "webhook:event:" + eventID
}

func subscriptionKey(subscriptionID string) string {
	return "webhook:sub:" + subscriptionID + ":ts"
}

func (s *store) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("webhookevent: exists: %w", err)
	}
	return n > 0, nil
}

func (s *store) IsStale(ctx context.Context, subscriptionID string, created time.Time) (bool, error) {
	if subscriptionID == "" {
		return false, nil
	}
	value, err := s.rdb.Get(ctx, subscriptionKey(subscriptionID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("webhookevent: get mark: %w", err)
	}
	stored, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		// Unreadable mark is treated as absent rather than blocking events.
		s.log.Warn("corrupt subscription timestamp mark",
			zap.String("subscription_id", subscriptionID),
			zap.String("value", value),
		)
		return false, nil
	}
	return stored >= created.Unix(), nil
}

func (s *store) MarkProcessed(ctx context.Context, eventID, subscriptionID string, created time.Time) error {
	retention := int(s.retention / time.Second)
	if err := s.rdb.Set(ctx, eventKey(eventID), "1", s.retention).Err(); err != nil {
		return fmt.Errorf("webhookevent: mark event: %w", err)
	}
	if subscriptionID == "" {
		return nil
	}
	err := advanceScript.Run(ctx, s.rdb,
		[]string{subscriptionKey(subscriptionID)},
		created.Unix(), retention,
	).Err()
	if err != nil {
		return fmt.Errorf("webhookevent: advance mark: %w", err)
	}
	return nil
}
