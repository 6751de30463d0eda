package scheduler

import (
	"context"

	"go.uber.org/fx"
)

// QueueModule provides only the task queue, for processes that enqueue work
// but leave execution to a scheduler process.
var QueueModule = fx.Module("scheduler.queue",
	fx.Provide(
		fx.Annotate(
			NewQueue,
			fx.As(fx.Self()),
			fx.As(new(Enqueuer)),
		),
	),
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, sched *Scheduler) {
	var stop func(context.Context) error
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var err error
			stop, err = sched.Start(context.Background())
			return err
		},
		OnStop: func(ctx context.Context) error {
			if stop == nil {
				return nil
			}
			return stop(ctx)
		},
	})
}
