package account

import (
	"github.com/searchleads/billing/internal/account/repository"
	"github.com/searchleads/billing/internal/account/service"
	"go.uber.org/fx"
)

var Module = fx.Module("account.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
