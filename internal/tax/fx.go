package tax

import (
	"github.com/smallbiznis/billingcore/internal/tax/repository"
	"github.com/smallbiznis/billingcore/internal/tax/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tax.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewCalculator),
	fx.Provide(service.NewService),
)
