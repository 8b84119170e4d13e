package cache

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/searchleads/billing/internal/config"
	"go.uber.org/fx"
)

func NewClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func registerHooks(lc fx.Lifecycle, client *redis.Client) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			return client.Close()
		},
	})
}

var Module = fx.Module("cache",
	fx.Provide(NewClient),
	fx.Invoke(registerHooks),
)
