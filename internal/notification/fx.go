package notification

import (
	"context"

	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/internal/events"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(NewSenderFromConfig),
	fx.Provide(
		fx.Annotate(
			newLifecycleDispatcher,
			fx.As(new(events.Subscriber)),
			fx.ResultTags(`group:"event_subscribers"`),
		),
	),
)

// NewSenderFromConfig falls back to NoOpSender when no SMTP host is set.
func NewSenderFromConfig(cfg config.Config, log *zap.Logger) (Sender, error) {
	if cfg.SMTPHost == "" {
		log.Named("notification").Info("smtp host not configured, notifications disabled")
		return NoOpSender{}, nil
	}
	return NewSMTPSender(SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

func newLifecycleDispatcher(lc fx.Lifecycle, log *zap.Logger, sender Sender) *Dispatcher {
	d := NewDispatcher(log, sender)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: d.Stop,
	})
	return d
}
