package payment

import (
	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/internal/payment/adapters"
	"github.com/smallbiznis/billingcore/internal/payment/adapters/fake"
	"github.com/smallbiznis/billingcore/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	"github.com/smallbiznis/billingcore/internal/payment/repository"
	paymentservice "github.com/smallbiznis/billingcore/internal/payment/service"
	"github.com/smallbiznis/billingcore/internal/scheduler"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
			fake.NewFactory(),
		)
	}),
	fx.Provide(func(cfg config.Config, registry *adapters.Registry) (paymentdomain.Gateway, error) {
		return registry.NewGateway(cfg.PaymentGateway, paymentdomain.GatewayConfig{SecretKey: cfg.StripeSecretKey})
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(
		fx.Annotate(
			paymentservice.NewTaskHandler,
			fx.As(new(scheduler.Handler)),
			fx.ResultTags(`group:"scheduler_handlers"`),
		),
	),
)
