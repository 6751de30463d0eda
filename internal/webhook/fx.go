package webhook

import (
	"github.com/smallbiznis/billingcore/internal/events"
	"github.com/smallbiznis/billingcore/internal/scheduler"
	"github.com/smallbiznis/billingcore/internal/webhook/domain"
	"github.com/smallbiznis/billingcore/internal/webhook/repository"
	"github.com/smallbiznis/billingcore/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(
		fx.Annotate(
			service.NewService,
			fx.As(new(domain.Service)),
			fx.As(fx.Self()),
		),
	),
	fx.Provide(
		fx.Annotate(
			func(svc *service.Service) events.Subscriber { return svc },
			fx.ResultTags(`group:"event_subscribers"`),
		),
	),
	fx.Provide(
		fx.Annotate(
			service.NewTaskHandler,
			fx.As(new(scheduler.Handler)),
			fx.ResultTags(`group:"scheduler_handlers"`),
		),
	),
)
