package invoice

import (
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/internal/invoice/render"
	"github.com/smallbiznis/billingcore/internal/invoice/repository"
	"github.com/smallbiznis/billingcore/internal/invoice/service"
	usagedomain "github.com/smallbiznis/billingcore/internal/usage/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(r invoicedomain.Repository) usagedomain.InvoicedPeriodChecker { return r }),
	fx.Provide(render.NewRenderer),
	fx.Provide(service.NewService),
)
