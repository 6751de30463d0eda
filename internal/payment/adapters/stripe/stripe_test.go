package stripe

import (
	"context"
	"errors"
	"testing"

	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	"github.com/smallbiznis/billingcore/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripeapi "github.com/stripe/stripe-go/v82"
)

func TestCharge_ConfirmsOffSessionIntent(t *testing.T) {
	var captured *stripeapi.PaymentIntentParams
	g := &Gateway{createIntent: func(params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error) {
		captured = params
		return &stripeapi.PaymentIntent{ID: "pi_123", Status: stripeapi.PaymentIntentStatusSucceeded}, nil
	}}

	result, err := g.Charge(context.Background(), paymentdomain.ChargeRequest{
		CustomerRef:      "cus_1",
		Amount:           2437,
		Currency:         "USD",
		PaymentMethodRef: "pm_card",
		IdempotencyKey:   "invoice_1_attempt_0",
		Metadata:         map[string]string{"invoice_id": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", result.TransactionID)

	require.NotNil(t, captured)
	assert.Equal(t, int64(2437), *captured.Amount)
	assert.Equal(t, "usd", *captured.Currency)
	assert.Equal(t, "cus_1", *captured.Customer)
	assert.Equal(t, "pm_card", *captured.PaymentMethod)
	assert.True(t, *captured.OffSession)
	assert.Equal(t, "invoice_1_attempt_0", *captured.IdempotencyKey)
	assert.Equal(t, "1", captured.Metadata["invoice_id"])
}

func TestCharge_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name    string
		intent  *stripeapi.PaymentIntent
		err     error
		wantErr error
	}{
		{
			name:    "card declined",
			err:     &stripeapi.Error{Type: stripeapi.ErrorTypeCard, DeclineCode: "insufficient_funds"},
			wantErr: paymentdomain.ErrDeclined,
		},
		{
			name:    "api error",
			err:     &stripeapi.Error{Type: stripeapi.ErrorTypeAPI, Msg: "boom"},
			wantErr: paymentdomain.ErrGatewayUnavailable,
		},
		{
			name:    "network",
			err:     errors.New("connection reset"),
			wantErr: paymentdomain.ErrGatewayUnavailable,
		},
		{
			name:    "requires action",
			intent:  &stripeapi.PaymentIntent{ID: "pi_9", Status: stripeapi.PaymentIntentStatusRequiresAction},
			wantErr: paymentdomain.ErrDeclined,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Gateway{createIntent: func(*stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error) {
				return tt.intent, tt.err
			}}
			_, err := g.Charge(context.Background(), paymentdomain.ChargeRequest{Amount: 100, Currency: "USD"})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, errs.Is(err, errs.KindGateway))
		})
	}
}

func TestRefund(t *testing.T) {
	g := &Gateway{createRefund: func(params *stripeapi.RefundParams) (*stripeapi.Refund, error) {
		assert.Equal(t, "pi_123", *params.PaymentIntent)
		return &stripeapi.Refund{ID: "re_1", Amount: *params.Amount}, nil
	}}

	result, err := g.Refund(context.Background(), "pi_123", 500, "refund_key")
	require.NoError(t, err)
	assert.Equal(t, "re_1", result.RefundID)
	assert.Equal(t, int64(500), result.Amount)
}

func TestFactoryRequiresSecret(t *testing.T) {
	_, err := NewFactory().NewGateway(paymentdomain.GatewayConfig{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}
