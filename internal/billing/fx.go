package billing

import (
	"github.com/smallbiznis/billingcore/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(service.NewService),
	fx.Provide(
		fx.Annotate(
			service.NewRolloverJob,
			fx.ResultTags(`group:"scheduler_jobs"`),
		),
	),
)
