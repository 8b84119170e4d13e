package subscription

import (
	"github.com/searchleads/billing/internal/subscription/repository"
	"github.com/searchleads/billing/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
