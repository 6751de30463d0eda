// Package cache keeps hot catalog lookups in memory.
package cache

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
)

const (
	defaultPlanTTL  = 5 * time.Minute
	defaultPlanSize = 1024
)

// PlanCache wraps a plan service and memoizes Get and GetByCode. Plans are
// never edited after creation, so entries only expire by age.
type PlanCache struct {
	next   plandomain.Service
	byID   *lru.LRU[snowflake.ID, *plandomain.Plan]
	byCode *lru.LRU[string, *plandomain.Plan]
}

func NewPlanCache(next plandomain.Service, size int, ttl time.Duration) *PlanCache {
	if size <= 0 {
		size = defaultPlanSize
	}
	if ttl <= 0 {
		ttl = defaultPlanTTL
	}
	return &PlanCache{
		next:   next,
		byID:   lru.NewLRU[snowflake.ID, *plandomain.Plan](size, nil, ttl),
		byCode: lru.NewLRU[string, *plandomain.Plan](size, nil, ttl),
	}
}

func (c *PlanCache) Create(ctx context.Context, req plandomain.CreateRequest) (*plandomain.Plan, error) {
	plan, err := c.next.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	c.store(plan)
	return clonePlan(plan), nil
}

func (c *PlanCache) Get(ctx context.Context, id snowflake.ID) (*plandomain.Plan, error) {
	if plan, ok := c.byID.Get(id); ok {
		return clonePlan(plan), nil
	}
	plan, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(plan)
	return clonePlan(plan), nil
}

func (c *PlanCache) GetByCode(ctx context.Context, code string) (*plandomain.Plan, error) {
	if plan, ok := c.byCode.Get(code); ok {
		return clonePlan(plan), nil
	}
	plan, err := c.next.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	c.store(plan)
	c.byCode.Add(code, plan)
	return clonePlan(plan), nil
}

func (c *PlanCache) List(ctx context.Context) ([]plandomain.Plan, error) {
	return c.next.List(ctx)
}

func (c *PlanCache) store(plan *plandomain.Plan) {
	if plan == nil {
		return
	}
	cached := clonePlan(plan)
	c.byID.Add(cached.ID, cached)
	c.byCode.Add(cached.Code, cached)
}

// clonePlan copies the plan and its tier and feature slices so callers
// cannot mutate cached entries.
func clonePlan(plan *plandomain.Plan) *plandomain.Plan {
	if plan == nil {
		return nil
	}
	out := *plan
	out.Tiers = append([]plandomain.PriceTier(nil), plan.Tiers...)
	if plan.Features != nil {
		out.Features = make([]plandomain.Feature, len(plan.Features))
		for i, f := range plan.Features {
			f.Tiers = append([]plandomain.PriceTier(nil), f.Tiers...)
			out.Features[i] = f
		}
	}
	return &out
}
