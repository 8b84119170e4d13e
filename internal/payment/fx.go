package payment

import (
	"github.com/searchleads/billing/internal/config"
	stripegw "github.com/searchleads/billing/internal/gateway/stripe"
	paymentdomain "github.com/searchleads/billing/internal/payment/domain"
	"github.com/searchleads/billing/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(func(cfg config.Config) paymentdomain.SignatureVerifier {
		return stripegw.NewVerifier(cfg.StripeWebhookSecret)
	}),
	fx.Provide(service.NewEngine),
)
