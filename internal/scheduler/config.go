package scheduler

import (
	"time"

	"github.com/smallbiznis/billingcore/internal/config"
)

// Config controls the task loop, worker pool and cron sweeps.
type Config struct {
	PollInterval     time.Duration
	Workers          int
	TaskTimeout      time.Duration
	RetryDelay       time.Duration
	RecoverySchedule string
	RecoveryBatch    int
}

func DefaultConfig() Config {
	return Config{
		PollInterval:     time.Minute,
		Workers:          8,
		TaskTimeout:      time.Minute,
		RetryDelay:       30 * time.Second,
		RecoverySchedule: "*/15 * * * *",
		RecoveryBatch:    500,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = defaults.TaskTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaults.RetryDelay
	}
	if c.RecoverySchedule == "" {
		c.RecoverySchedule = defaults.RecoverySchedule
	}
	if c.RecoveryBatch <= 0 {
		c.RecoveryBatch = defaults.RecoveryBatch
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		PollInterval:     cfg.SchedulerPollInterval,
		Workers:          cfg.SchedulerWorkers,
		RecoverySchedule: cfg.RecoverySchedule,
	}.withDefaults()
}
