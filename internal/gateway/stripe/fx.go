package stripe

import (
	"github.com/searchleads/billing/internal/config"
	"github.com/searchleads/billing/internal/gateway"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway.stripe",
	fx.Provide(func(cfg config.Config) gateway.Gateway {
		return NewClient(cfg.StripeAPIKey)
	}),
)
