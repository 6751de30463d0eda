package events

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type busParams struct {
	fx.In

	Log         *zap.Logger
	Subscribers []Subscriber `group:"event_subscribers"`
}

var Module = fx.Module("events",
	fx.Provide(
		fx.Annotate(
			func(p busParams) *Bus { return NewBus(p.Log, p.Subscribers...) },
			fx.As(new(Publisher)),
			fx.As(fx.Self()),
		),
	),
)
