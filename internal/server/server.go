package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	accountdomain "github.com/searchleads/billing/internal/account/domain"
	"github.com/searchleads/billing/internal/config"
	"github.com/searchleads/billing/internal/gateway"
	invoicelogdomain "github.com/searchleads/billing/internal/invoicelog/domain"
	"github.com/searchleads/billing/internal/observability/metrics"
	paymentdomain "github.com/searchleads/billing/internal/payment/domain"
	"github.com/searchleads/billing/internal/ratelimit"
	subscriptiondomain "github.com/searchleads/billing/internal/subscription/domain"
	tierdomain "github.com/searchleads/billing/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func registerGin(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogMiddleware(log))
	engine.Use(ErrorHandlingMiddleware())
	return engine
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.Engine(),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	accounts    accountdomain.Service
	tiers       tierdomain.Service
	coordinator subscriptiondomain.Coordinator
	engineSvc   paymentdomain.Engine
	invoices    invoicelogdomain.Service
	gateway     gateway.Gateway
	pricing     *config.PricingHolder
	limiter     *ratelimit.Limiter
	metrics     *metrics.Metrics
	registry    *prometheus.Registry
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	Accounts    accountdomain.Service
	Tiers       tierdomain.Service
	Coordinator subscriptiondomain.Coordinator
	Engine      paymentdomain.Engine
	Invoices    invoicelogdomain.Service
	Gateway     gateway.Gateway
	Pricing     *config.PricingHolder
	Limiter     *ratelimit.Limiter
	Metrics     *metrics.Metrics
	Registry    *prometheus.Registry
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		accounts:    p.Accounts,
		tiers:       p.Tiers,
		coordinator: p.Coordinator,
		engineSvc:   p.Engine,
		invoices:    p.Invoices,
		gateway:     p.Gateway,
		pricing:     p.Pricing,
		limiter:     p.Limiter,
		metrics:     p.Metrics,
		registry:    p.Registry,
	}

	s.registerWebhookRoutes()
	s.registerAPIRoutes()
	s.registerOpsRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/accounts", s.CreateAccount)
	v1.GET("/accounts/:user_id/balances", s.GetBalances)
	v1.POST("/accounts/:user_id/deduct", s.Deduct)
	v1.POST("/accounts/:user_id/reserve", s.Reserve)
	v1.POST("/accounts/:user_id/refund", s.Refund)

	v1.GET("/tiers", s.ListTiers)
	v1.POST("/tiers/refresh", s.RefreshTiers)

	v1.GET("/subscriptions/:user_id", s.SubscriptionStatus)
	v1.POST("/subscriptions", s.CreateSubscription)
	v1.POST("/subscriptions/:user_id/upgrade", s.UpgradeSubscription)
	v1.POST("/subscriptions/:user_id/cancel", s.CancelSubscription)
	v1.POST("/subscriptions/:user_id/resume", s.ResumeSubscription)

	v1.GET("/billing/:user_id/history", s.BillingHistory)
	v1.GET("/coupons/:code", s.RetrieveCoupon)
	v1.GET("/pricing/quote", s.PricingQuote)
}

func (s *Server) registerOpsRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}
