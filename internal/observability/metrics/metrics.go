package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes billing domain instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	usageRecorded           metric.Int64Counter
	subscriptionTransitions metric.Int64Counter
	invoiceTransitions      metric.Int64Counter
	prorationNet            metric.Int64Histogram
	paymentAttempts         metric.Int64Counter
	webhookDeliveries       metric.Int64Counter
	creditAdjustments       metric.Int64Counter
}

// NewProvider configures the meter provider. The provider is returned to the
// caller rather than installed globally.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		return noop.NewMeterProvider(), nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "billingcore"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	if m.usageRecorded, err = meter.Int64Counter("billing_usage_recorded_total"); err != nil {
		return nil, err
	}
	if m.subscriptionTransitions, err = meter.Int64Counter("billing_subscription_transitions_total"); err != nil {
		return nil, err
	}
	if m.invoiceTransitions, err = meter.Int64Counter("billing_invoice_transitions_total"); err != nil {
		return nil, err
	}
	if m.prorationNet, err = meter.Int64Histogram("billing_proration_net_minor_units"); err != nil {
		return nil, err
	}
	if m.paymentAttempts, err = meter.Int64Counter("billing_payment_attempts_total"); err != nil {
		return nil, err
	}
	if m.webhookDeliveries, err = meter.Int64Counter("billing_webhook_deliveries_total"); err != nil {
		return nil, err
	}
	if m.creditAdjustments, err = meter.Int64Counter("billing_credit_adjustments_total"); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) RecordUsage(ctx context.Context, featureCode string, late bool) {
	if m == nil {
		return
	}
	m.usageRecorded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("feature_code", featureCode),
		attribute.Bool("late", late),
	))
}

func (m *Metrics) RecordSubscriptionTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.subscriptionTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *Metrics) RecordInvoiceTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.invoiceTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *Metrics) RecordProration(ctx context.Context, net int64) {
	if m == nil {
		return
	}
	m.prorationNet.Record(ctx, net)
}

// RecordPaymentAttempt counts gateway charges by outcome.
func (m *Metrics) RecordPaymentAttempt(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.paymentAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) RecordWebhookDelivery(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordCreditAdjustment(ctx context.Context, adjustmentType string) {
	if m == nil {
		return
	}
	m.creditAdjustments.Add(ctx, 1, metric.WithAttributes(attribute.String("type", adjustmentType)))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}
