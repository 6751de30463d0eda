package domain

import (
	"context"

	"github.com/smallbiznis/billingcore/pkg/errs"
)

type ChargeRequest struct {
	CustomerRef      string
	Amount           int64
	Currency         string
	PaymentMethodRef string
	IdempotencyKey   string
	Metadata         map[string]string
}

type ChargeResult struct {
	TransactionID string
}

type RefundResult struct {
	RefundID string
	Amount   int64
}

//go:generate mockgen -destination=../adapters/mock/gateway_mock.go -package=mock github.com/smallbiznis/billingcore/internal/payment/domain Gateway

// Gateway is the card processor capability. Charge and Refund return errors
// of kind errs.KindGateway for declines and processor failures; any other
// error leaves the attempt scheduled.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, transactionID string, amount int64, idempotencyKey string) (RefundResult, error)
}

// GatewayConfig configures a Gateway built through the adapter registry.
type GatewayConfig struct {
	SecretKey string
}

type GatewayFactory interface {
	Provider() string
	NewGateway(cfg GatewayConfig) (Gateway, error)
}

var (
	ErrDeclined           = errs.New(errs.KindGateway, "card_declined")
	ErrGatewayUnavailable = errs.New(errs.KindGateway, "gateway_unavailable")
	ErrProviderNotFound   = errs.New(errs.KindValidation, "payment_provider_not_found")
	ErrInvalidConfig      = errs.New(errs.KindValidation, "invalid_gateway_config")
)
