// Package fake is a deterministic in-memory payment gateway. Outcomes are
// scripted per call; once the script runs out every charge succeeds.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/smallbiznis/billingcore/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Provider() string { return "fake" }

func (f *Factory) NewGateway(domain.GatewayConfig) (domain.Gateway, error) {
	return New(), nil
}

type Gateway struct {
	mu      sync.Mutex
	script  []error
	charges []domain.ChargeRequest
	refunds []string
	seq     int
	// replay maps idempotency keys to the first result.
	replay map[string]domain.ChargeResult
}

// New returns a gateway whose next charges fail with the given errors in
// order. A nil entry is a successful charge.
func New(script ...error) *Gateway {
	return &Gateway{script: script, replay: make(map[string]domain.ChargeResult)}
}

// Script appends outcomes for future charges.
func (g *Gateway) Script(outcomes ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = append(g.script, outcomes...)
}

func (g *Gateway) Charge(_ context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if req.IdempotencyKey != "" {
		if result, ok := g.replay[req.IdempotencyKey]; ok {
			return result, nil
		}
	}
	g.charges = append(g.charges, req)

	if len(g.script) > 0 {
		outcome := g.script[0]
		g.script = g.script[1:]
		if outcome != nil {
			return domain.ChargeResult{}, outcome
		}
	}

	g.seq++
	result := domain.ChargeResult{TransactionID: fmt.Sprintf("fake_txn_%d", g.seq)}
	if req.IdempotencyKey != "" {
		g.replay[req.IdempotencyKey] = result
	}
	return result, nil
}

func (g *Gateway) Refund(_ context.Context, transactionID string, amount int64, _ string) (domain.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, transactionID)
	return domain.RefundResult{RefundID: fmt.Sprintf("fake_refund_%d", len(g.refunds)), Amount: amount}, nil
}

// Charges returns every charge request that reached the processor.
func (g *Gateway) Charges() []domain.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.ChargeRequest, len(g.charges))
	copy(out, g.charges)
	return out
}

func (g *Gateway) Refunds() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.refunds))
	copy(out, g.refunds)
	return out
}
