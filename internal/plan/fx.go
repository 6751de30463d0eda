package plan

import (
	"github.com/smallbiznis/billingcore/internal/cache"
	"github.com/smallbiznis/billingcore/internal/config"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	"github.com/smallbiznis/billingcore/internal/plan/repository"
	"github.com/smallbiznis/billingcore/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(newCachedService),
)

func newCachedService(p service.Params, cfg config.Config) plandomain.Service {
	return cache.NewPlanCache(service.New(p), cfg.PlanCacheSize, cfg.PlanCacheTTL)
}
