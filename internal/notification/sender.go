package notification

import (
	"context"
	"errors"
)

const (
	TemplatePaymentFailed           = "payment_failed"
	TemplatePaymentRetriesExhausted = "payment_retries_exhausted"
)

var (
	ErrInvalidRecipient = errors.New("invalid_recipient")
	ErrUnknownTemplate  = errors.New("unknown_template")
)

// Sender delivers a rendered template to a single recipient.
type Sender interface {
	Send(ctx context.Context, recipient string, template string, data map[string]any) error
}

type NoOpSender struct{}

func (NoOpSender) Send(context.Context, string, string, map[string]any) error {
	return nil
}
