package service

import (
	"context"
	"time"

	billingdomain "github.com/smallbiznis/billingcore/internal/billing/domain"
	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/internal/scheduler"
)

const defaultRolloverSchedule = "*/5 * * * *"

// NewRolloverJob sweeps subscriptions whose period has ended.
func NewRolloverJob(cfg config.Config, svc billingdomain.Service, clk clock.Clock) scheduler.Job {
	schedule := cfg.RolloverSchedule
	if schedule == "" {
		schedule = defaultRolloverSchedule
	}
	return scheduler.Job{
		Name:     "rollover",
		Schedule: schedule,
		Timeout:  5 * time.Minute,
		Run: func(ctx context.Context) error {
			n, err := svc.RolloverDue(ctx, clk.Now())
			scheduler.AddProcessed(ctx, n)
			return err
		},
	}
}
