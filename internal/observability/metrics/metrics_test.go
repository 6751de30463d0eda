package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "billingcore"}, noop.NewMeterProvider())
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordUsage(ctx, "api_calls", false)
	m.RecordSubscriptionTransition(ctx, "ACTIVE", "PAST_DUE")
	m.RecordProration(ctx, 500)
	m.RecordPaymentAttempt(ctx, "failed")
	m.RecordWebhookDelivery(ctx, "SUCCESS")

	var nilMetrics *Metrics
	nilMetrics.RecordUsage(ctx, "api_calls", true)
}
