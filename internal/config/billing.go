package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/billingcore/internal/backoff"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingConfig is the hot-reloadable billing policy.
type BillingConfig struct {
	PaymentRetry    backoff.Policy `mapstructure:"paymentRetry"`
	WebhookRetry    backoff.Policy `mapstructure:"webhookRetry"`
	RepositoryRetry backoff.Policy `mapstructure:"repositoryRetry"`
	WebhookTimeout  time.Duration  `mapstructure:"webhookTimeout"`
	InvoiceDueDays  int            `mapstructure:"invoiceDueDays"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		PaymentRetry:    backoff.DefaultPayment(),
		WebhookRetry:    backoff.DefaultWebhook(),
		RepositoryRetry: backoff.DefaultRepository(),
		WebhookTimeout:  10 * time.Second,
		InvoiceDueDays:  7,
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder wraps a fixed policy.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	log = log.Named("billing.config")
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/billingcore")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BILLINGCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setBillingDefaults(v, DefaultBillingConfig())

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		found = false
	}

	cfg, err := decodeBillingConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !found {
		log.Info("billing config file not found, using defaults")
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeBillingConfig(v)
		if err != nil {
			log.Warn("billing config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing config reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func setBillingDefaults(v *viper.Viper, d BillingConfig) {
	for prefix, p := range map[string]backoff.Policy{
		"billing.paymentRetry":    d.PaymentRetry,
		"billing.webhookRetry":    d.WebhookRetry,
		"billing.repositoryRetry": d.RepositoryRetry,
	} {
		v.SetDefault(prefix+".baseDelay", p.BaseDelay)
		v.SetDefault(prefix+".maxDelay", p.MaxDelay)
		v.SetDefault(prefix+".multiplier", p.Multiplier)
		v.SetDefault(prefix+".maxAttempts", p.MaxAttempts)
		v.SetDefault(prefix+".jitter", p.Jitter)
	}
	v.SetDefault("billing.webhookTimeout", d.WebhookTimeout)
	v.SetDefault("billing.invoiceDueDays", d.InvoiceDueDays)
}

func decodeBillingConfig(v *viper.Viper) (BillingConfig, error) {
	// Unmarshal resolves every leaf key so defaults fill gaps in the file.
	var root struct {
		Billing BillingConfig `mapstructure:"billing"`
	}
	if err := v.Unmarshal(&root); err != nil {
		return BillingConfig{}, err
	}
	if err := validateBillingConfig(root.Billing); err != nil {
		return BillingConfig{}, err
	}
	return root.Billing, nil
}

func validateBillingConfig(cfg BillingConfig) error {
	if err := cfg.PaymentRetry.Validate(); err != nil {
		return fmt.Errorf("billing.paymentRetry: %w", err)
	}
	if err := cfg.WebhookRetry.Validate(); err != nil {
		return fmt.Errorf("billing.webhookRetry: %w", err)
	}
	if err := cfg.RepositoryRetry.Validate(); err != nil {
		return fmt.Errorf("billing.repositoryRetry: %w", err)
	}
	if cfg.WebhookTimeout <= 0 {
		return errors.New("billing.webhookTimeout must be positive")
	}
	if cfg.InvoiceDueDays < 0 {
		return errors.New("billing.invoiceDueDays cannot be negative")
	}
	return nil
}
