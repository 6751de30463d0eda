package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/billingcore/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithSubscriptionID(ctx, "42")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	assert.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "42", fields["subscription_id"])
	assert.NotContains(t, fields, "invoice_id")
}

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "SELECT", operationFromSQL("  select * from invoices"))
	assert.Equal(t, "UPDATE", operationFromSQL("update invoices set status = 'PAID'"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}
