package invoicelog

import (
	"github.com/searchleads/billing/internal/invoicelog/repository"
	"github.com/searchleads/billing/internal/invoicelog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoicelog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
