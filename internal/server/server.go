package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	billingdomain "github.com/smallbiznis/billingcore/internal/billing/domain"
	"github.com/smallbiznis/billingcore/internal/config"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/billingcore/internal/ledger/domain"
	"github.com/smallbiznis/billingcore/internal/observability"
	obsmiddleware "github.com/smallbiznis/billingcore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/billingcore/internal/observability/metrics"
	obstracing "github.com/smallbiznis/billingcore/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	"github.com/smallbiznis/billingcore/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	usagedomain "github.com/smallbiznis/billingcore/internal/usage/domain"
	webhookdomain "github.com/smallbiznis/billingcore/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

type EngineParams struct {
	Log         *zap.Logger
	ObsCfg      observability.Config
	HTTPMetrics *obsmetrics.HTTPMetrics
	Registry    *prometheus.Registry
}

func NewEngine(p EngineParams) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(p.Log, obsmiddleware.MiddlewareConfig{
		Debug:           p.ObsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(p.HTTPMetrics))
	r.Use(ErrorHandlingMiddleware())

	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	r.GET("/health", health)
	r.GET("/healthz", health)

	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
	if p.Registry != nil {
		gatherers = append(gatherers, p.Registry)
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})))

	return r
}

func registerGin(cfg config.Config, log *zap.Logger, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, registry *prometheus.Registry) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(EngineParams{
		Log:         log,
		ObsCfg:      obsCfg,
		HTTPMetrics: httpMetrics,
		Registry:    registry,
	})
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.String("addr", srv.Addr), zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", srv.Addr))
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
	engine          *gin.Engine
	cfg             config.Config
	billingSvc      billingdomain.Service
	usageSvc        usagedomain.Service
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	invoiceSvc      invoicedomain.Service
	ledgerSvc       ledgerdomain.Service
	paymentSvc      paymentdomain.Service
	taxSvc          taxdomain.Service
	webhookSvc      webhookdomain.Service
	usageLimiter    *ratelimit.UsageLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	BillingSvc      billingdomain.Service
	UsageSvc        usagedomain.Service
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	InvoiceSvc      invoicedomain.Service
	LedgerSvc       ledgerdomain.Service
	PaymentSvc      paymentdomain.Service
	TaxSvc          taxdomain.Service
	WebhookSvc      webhookdomain.Service
	UsageLimiter    *ratelimit.UsageLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		billingSvc:      p.BillingSvc,
		usageSvc:        p.UsageSvc,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		invoiceSvc:      p.InvoiceSvc,
		ledgerSvc:       p.LedgerSvc,
		paymentSvc:      p.PaymentSvc,
		taxSvc:          p.TaxSvc,
		webhookSvc:      p.WebhookSvc,
		usageLimiter:    p.UsageLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Usage --------
	api.POST("/usage", s.IngestUsage)
	api.GET("/usage", s.ListUsage)

	// -------- Plans --------
	api.GET("/plans", s.ListPlans)
	api.POST("/plans", s.CreatePlan)
	api.GET("/plans/:id", s.GetPlanByID)

	// -------- Subscriptions --------
	api.GET("/subscriptions", s.ListSubscriptions)
	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions/:id", s.GetSubscriptionByID)
	api.POST("/subscriptions/:id/change_plan", s.ChangeSubscriptionPlan)
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)
	api.POST("/subscriptions/:id/resume", s.ResumeSubscription)
	api.PUT("/subscriptions/:id/payment_method", s.UpdatePaymentMethod)
	api.POST("/subscriptions/:id/rollover", s.RolloverSubscription)

	// -------- Invoices --------
	api.GET("/invoices", s.ListInvoices)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.GET("/invoices/:id/render", s.RenderInvoice)
	api.POST("/invoices/:id/finalize", s.FinalizeInvoice)
	api.POST("/invoices/:id/apply_credit", s.ApplyInvoiceCredit)
	api.POST("/invoices/:id/void", s.VoidInvoice)
	api.POST("/invoices/:id/charge", s.ChargeInvoice)
	api.POST("/invoices/:id/refund", s.RefundInvoice)
	api.GET("/invoices/:id/payment_attempts", s.ListPaymentAttempts)

	// -------- Credits --------
	api.POST("/credits", s.IssueCredit)
	api.GET("/credits/balance", s.GetCreditBalance)
	api.GET("/credits/adjustments", s.ListCreditAdjustments)

	// -------- Tax Rates --------
	api.GET("/tax_rates", s.ListTaxRates)
	api.POST("/tax_rates", s.CreateTaxRate)
	api.POST("/tax_rates/:id/disable", s.DisableTaxRate)

	// -------- Webhooks --------
	api.GET("/webhook_endpoints", s.ListWebhookEndpoints)
	api.POST("/webhook_endpoints", s.RegisterWebhookEndpoint)
	api.POST("/webhook_endpoints/:id/disable", s.DisableWebhookEndpoint)
	api.GET("/webhook_deliveries", s.ListWebhookDeliveries)
	api.GET("/webhook_deliveries/:id", s.GetWebhookDelivery)
	api.POST("/webhook_deliveries/:id/retry", s.RetryWebhookDelivery)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
