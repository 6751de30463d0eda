// Package stripe charges invoices through Stripe PaymentIntents. Charges are
// confirmed off-session against the customer's saved payment method.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewGateway(cfg paymentdomain.GatewayConfig) (paymentdomain.Gateway, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	stripeapi.Key = secret
	return New(), nil
}

type Gateway struct {
	createIntent func(params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error)
	createRefund func(params *stripeapi.RefundParams) (*stripeapi.Refund, error)
}

func New() *Gateway {
	return &Gateway{
		createIntent: paymentintent.New,
		createRefund: refund.New,
	}
}

func (g *Gateway) Charge(_ context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResult, error) {
	params := &stripeapi.PaymentIntentParams{
		Amount:     stripeapi.Int64(req.Amount),
		Currency:   stripeapi.String(strings.ToLower(req.Currency)),
		Customer:   stripeapi.String(req.CustomerRef),
		Confirm:    stripeapi.Bool(true),
		OffSession: stripeapi.Bool(true),
	}
	if ref := strings.TrimSpace(req.PaymentMethodRef); ref != "" {
		params.PaymentMethod = stripeapi.String(ref)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := g.createIntent(params)
	if err != nil {
		return paymentdomain.ChargeResult{}, classify(err)
	}

	switch intent.Status {
	case stripeapi.PaymentIntentStatusSucceeded, stripeapi.PaymentIntentStatusProcessing:
		return paymentdomain.ChargeResult{TransactionID: intent.ID}, nil
	default:
		return paymentdomain.ChargeResult{}, fmt.Errorf("%w: payment intent %s is %s", paymentdomain.ErrDeclined, intent.ID, intent.Status)
	}
}

func (g *Gateway) Refund(_ context.Context, transactionID string, amount int64, idempotencyKey string) (paymentdomain.RefundResult, error) {
	params := &stripeapi.RefundParams{
		PaymentIntent: stripeapi.String(transactionID),
		Amount:        stripeapi.Int64(amount),
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	r, err := g.createRefund(params)
	if err != nil {
		return paymentdomain.RefundResult{}, classify(err)
	}
	return paymentdomain.RefundResult{RefundID: r.ID, Amount: r.Amount}, nil
}

func classify(err error) error {
	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) && stripeErr.Type == stripeapi.ErrorTypeCard {
		code := string(stripeErr.DeclineCode)
		if code == "" {
			code = string(stripeErr.Code)
		}
		return fmt.Errorf("%w: %s", paymentdomain.ErrDeclined, code)
	}
	return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)
}
