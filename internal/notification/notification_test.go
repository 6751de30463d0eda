package notification

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/billingcore/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sent struct {
	recipient string
	template  string
	data      map[string]any
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (r *recordingSender) Send(_ context.Context, recipient, template string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{recipient: recipient, template: template, data: data})
	return r.err
}

func TestSMTPSender_RendersTemplate(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587, From: "billing@example.com"})
	require.NoError(t, err)

	var addr string
	var msg []byte
	s.sendMail = func(a string, _ smtp.Auth, from string, to []string, m []byte) error {
		addr = a
		msg = m
		assert.Equal(t, "billing@example.com", from)
		assert.Equal(t, []string{"ops@acme.test"}, to)
		return nil
	}

	err = s.Send(context.Background(), "ops@acme.test", TemplatePaymentFailed, map[string]any{
		"invoice_id":      "42",
		"amount_display":  "20.00 USD",
		"error":           "card_declined",
		"next_attempt_at": "2026-04-02T00:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", addr)

	body := string(msg)
	assert.Contains(t, body, "Subject: Payment failed for invoice 42\r\n")
	assert.Contains(t, body, "20.00 USD")
	assert.Contains(t, body, "card_declined")
	assert.Contains(t, body, "2026-04-02T00:00:00Z")
	assert.False(t, strings.Contains(body, "{{"))
}

func TestSMTPSender_Rejects(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Host: "localhost", Port: 25})
	require.NoError(t, err)
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("unexpected send")
		return nil
	}

	assert.ErrorIs(t, s.Send(context.Background(), "", TemplatePaymentFailed, nil), ErrInvalidRecipient)
	assert.ErrorIs(t, s.Send(context.Background(), "a@b.c\r\nBcc: x@y.z", TemplatePaymentFailed, nil), ErrInvalidRecipient)
	assert.ErrorIs(t, s.Send(context.Background(), "a@b.c", "welcome", nil), ErrUnknownTemplate)
}

func TestDispatcher_SendsPaymentEmails(t *testing.T) {
	sender := &recordingSender{err: errors.New("relay down")}
	d := NewDispatcher(zap.NewNop(), sender)
	d.Start()

	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, d.Handle(ctx, events.New(events.TypePaymentFailed, now, map[string]any{
		"billing_email": "ops@acme.test",
		"invoice_id":    "42",
		"amount":        int64(2437),
		"currency":      "usd",
	})))
	require.NoError(t, d.Handle(ctx, events.New(events.TypePaymentRetriesExhausted, now, map[string]any{
		"billing_email": "ops@acme.test",
		"amount":        2000,
		"currency":      "USD",
	})))
	// Ignored: no recipient, or not a payment failure.
	require.NoError(t, d.Handle(ctx, events.New(events.TypePaymentFailed, now, map[string]any{"amount": int64(1)})))
	require.NoError(t, d.Handle(ctx, events.New(events.TypeInvoicePaid, now, map[string]any{"billing_email": "ops@acme.test"})))

	require.NoError(t, d.Stop(ctx))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, TemplatePaymentFailed, sender.sent[0].template)
	assert.Equal(t, "24.37 USD", sender.sent[0].data["amount_display"])
	assert.Equal(t, TemplatePaymentRetriesExhausted, sender.sent[1].template)
	assert.Equal(t, "20.00 USD", sender.sent[1].data["amount_display"])
}
