package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingcore/internal/events"
	"go.uber.org/zap"
)

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 30 * time.Second
)

type job struct {
	recipient string
	template  string
	data      map[string]any
	eventID   string
}

// Dispatcher turns payment events into customer emails. Handle only queues;
// a single worker sends and logs failures.
type Dispatcher struct {
	log     *zap.Logger
	sender  Sender
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
}

func NewDispatcher(log *zap.Logger, sender Sender) *Dispatcher {
	return &Dispatcher{
		log:     log.Named("notification.dispatcher"),
		sender:  sender,
		timeout: defaultSendTimeout,
		jobs:    make(chan job, defaultQueueSize),
	}
}

func (d *Dispatcher) Handle(_ context.Context, ev events.Event) error {
	var name string
	switch ev.Type {
	case events.TypePaymentFailed:
		name = TemplatePaymentFailed
	case events.TypePaymentRetriesExhausted:
		name = TemplatePaymentRetriesExhausted
	default:
		return nil
	}

	recipient, _ := ev.Data["billing_email"].(string)
	if strings.TrimSpace(recipient) == "" {
		return nil
	}

	data := make(map[string]any, len(ev.Data)+1)
	for k, v := range ev.Data {
		data[k] = v
	}
	data["amount_display"] = formatAmount(ev.Data["amount"], ev.Data["currency"])

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil
	}
	select {
	case d.jobs <- job{recipient: recipient, template: name, data: data, eventID: ev.ID}:
	default:
		d.log.Warn("notification queue full, dropping",
			zap.String("event_id", ev.ID),
			zap.String("template", name),
		)
	}
	return nil
}

func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for j := range d.jobs {
			d.send(j)
		}
	}()
}

// Stop drains queued notifications or gives up when ctx ends.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) send(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sender.Send(ctx, j.recipient, j.template, j.data); err != nil {
		d.log.Warn("notification send failed",
			zap.String("event_id", j.eventID),
			zap.String("template", j.template),
			zap.Error(err),
		)
		return
	}
	d.log.Debug("notification sent", zap.String("event_id", j.eventID), zap.String("template", j.template))
}

func formatAmount(amount, currency any) string {
	var minor int64
	switch v := amount.(type) {
	case int64:
		minor = v
	case int:
		minor = int64(v)
	case float64:
		minor = int64(v)
	}
	code, _ := currency.(string)
	return fmt.Sprintf("%s %s", decimal.New(minor, -2).StringFixed(2), strings.ToUpper(code))
}
