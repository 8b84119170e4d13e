package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/searchleads/billing/internal/account"
	"github.com/searchleads/billing/internal/cache"
	"github.com/searchleads/billing/internal/clock"
	"github.com/searchleads/billing/internal/config"
	stripegw "github.com/searchleads/billing/internal/gateway/stripe"
	"github.com/searchleads/billing/internal/invoicelog"
	"github.com/searchleads/billing/internal/logger"
	"github.com/searchleads/billing/internal/migration"
	"github.com/searchleads/billing/internal/observability/metrics"
	"github.com/searchleads/billing/internal/payment"
	"github.com/searchleads/billing/internal/ratelimit"
	"github.com/searchleads/billing/internal/scheduler"
	"github.com/searchleads/billing/internal/server"
	"github.com/searchleads/billing/internal/subscription"
	"github.com/searchleads/billing/internal/tier"
	"github.com/searchleads/billing/internal/webhookevent"
	"github.com/searchleads/billing/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		cache.Module,
		clock.Module,
		metrics.Module,
		migration.Module,

		// Domains
		stripegw.Module,
		account.Module,
		tier.Module,
		subscription.Module,
		webhookevent.Module,
		invoicelog.Module,
		ratelimit.Module,
		payment.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
