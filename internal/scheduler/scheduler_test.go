package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/billingcore/internal/clock"
	obsmetrics "github.com/smallbiznis/billingcore/internal/observability/metrics"
	"github.com/smallbiznis/billingcore/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var start = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type stubHandler struct {
	kind    Kind
	mu      sync.Mutex
	runs    []snowflake.ID
	results map[snowflake.ID][]error
	pending []Task
	ran     chan snowflake.ID
}

func newStubHandler(kind Kind) *stubHandler {
	return &stubHandler{
		kind:    kind,
		results: map[snowflake.ID][]error{},
		ran:     make(chan snowflake.ID, 16),
	}
}

func (h *stubHandler) Kind() Kind { return h.kind }

func (h *stubHandler) Run(_ context.Context, id snowflake.ID) error {
	h.mu.Lock()
	h.runs = append(h.runs, id)
	var err error
	if scripted := h.results[id]; len(scripted) > 0 {
		err = scripted[0]
		h.results[id] = scripted[1:]
	}
	h.mu.Unlock()
	h.ran <- id
	return err
}

func (h *stubHandler) Pending(context.Context) ([]Task, error) {
	return h.pending, nil
}

func (h *stubHandler) runCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runs)
}

type fixture struct {
	sched    *Scheduler
	queue    *Queue
	clock    *clock.FakeClock
	registry *prometheus.Registry
}

func setup(t *testing.T, handlers ...Handler) fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	fc := clock.NewFakeClock(start)
	queue := NewQueue()
	sched, err := New(Params{
		Log:      zap.NewNop(),
		Clock:    fc,
		GenID:    node,
		Queue:    queue,
		Handlers: handlers,
		Metrics: obsmetrics.NewSchedulerMetrics(registry, obsmetrics.Config{
			ServiceName: "billingcore",
			Environment: "test",
		}),
		Config: Config{RetryDelay: time.Minute, Workers: 2},
	})
	require.NoError(t, err)
	return fixture{sched: sched, queue: queue, clock: fc, registry: registry}
}

func TestRunDueOnlyRunsDueTasks(t *testing.T) {
	h := newStubHandler("invoice_payment")
	f := setup(t, h)

	f.queue.Enqueue(Task{Kind: h.kind, ID: 1, At: start})
	f.queue.Enqueue(Task{Kind: h.kind, ID: 2, At: start.Add(time.Hour)})

	assert.Equal(t, 1, f.sched.RunDue(context.Background()))
	assert.Equal(t, 1, h.runCount())
	assert.Equal(t, 1, f.queue.Len())

	f.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.sched.RunDue(context.Background()))
	assert.Equal(t, 0, f.queue.Len())
	assert.Equal(t, 0, f.sched.RunDue(context.Background()))
}

func TestRunDueRequeuesTransientFailures(t *testing.T) {
	h := newStubHandler("webhook_delivery")
	h.results[7] = []error{errs.Wrap(errs.KindRepository, errors.New("connection reset"))}
	f := setup(t, h)

	f.queue.Enqueue(Task{Kind: h.kind, ID: 7, At: start})
	f.sched.RunDue(context.Background())

	next, ok := f.queue.NextAt()
	require.True(t, ok)
	assert.Equal(t, start.Add(time.Minute), next)

	f.clock.Advance(time.Minute)
	f.sched.RunDue(context.Background())
	assert.Equal(t, 2, h.runCount())
	assert.Equal(t, 0, f.queue.Len())

	labels := map[string]string{"service": "billingcore", "env": "test", "kind": "webhook_delivery"}
	assert.Equal(t, 1.0, counterValue(t, f.registry, "billing_scheduler_task_runs_total", withResult(labels, "requeued")))
	assert.Equal(t, 1.0, counterValue(t, f.registry, "billing_scheduler_task_runs_total", withResult(labels, "success")))
}

func TestRunDueDropsPermanentFailures(t *testing.T) {
	h := newStubHandler("invoice_payment")
	h.results[3] = []error{errs.New(errs.KindValidation, "invalid_amount")}
	f := setup(t, h)

	f.queue.Enqueue(Task{Kind: h.kind, ID: 3, At: start})
	f.sched.RunDue(context.Background())

	assert.Equal(t, 0, f.queue.Len())
	labels := map[string]string{"service": "billingcore", "env": "test", "kind": "invoice_payment", "result": "error"}
	assert.Equal(t, 1.0, counterValue(t, f.registry, "billing_scheduler_task_runs_total", labels))
}

func TestRunDueSkipsUnknownKinds(t *testing.T) {
	f := setup(t)
	f.queue.Enqueue(Task{Kind: "orphan", ID: 1, At: start})
	assert.Equal(t, 1, f.sched.RunDue(context.Background()))
	assert.Equal(t, 0, f.queue.Len())
}

func TestRecoverRebuildsQueueFromHandlers(t *testing.T) {
	payments := newStubHandler("invoice_payment")
	payments.pending = []Task{
		{Kind: "invoice_payment", ID: 1, At: start.Add(24 * time.Hour)},
		{Kind: "invoice_payment", ID: 2, At: start.Add(72 * time.Hour)},
	}
	deliveries := newStubHandler("webhook_delivery")
	deliveries.pending = []Task{{Kind: "webhook_delivery", ID: 1, At: start}}
	f := setup(t, payments, deliveries)

	require.NoError(t, f.sched.Recover(context.Background()))
	require.NoError(t, f.sched.Recover(context.Background()))
	assert.Equal(t, 3, f.queue.Len())

	next, ok := f.queue.NextAt()
	require.True(t, ok)
	assert.Equal(t, start, next)
}

func TestNewRejectsDuplicateHandlers(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	_, err = New(Params{
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(start),
		GenID:    node,
		Queue:    NewQueue(),
		Handlers: []Handler{newStubHandler("a"), newStubHandler("a")},
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	f := setup(t)
	err := f.sched.runJob(context.Background(), "rollover", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "billingcore",
		"env":     "test",
		"job":     "rollover",
		"reason":  obsmetrics.JobReasonDeadlineExceeded,
	}
	assert.Equal(t, 1.0, counterValue(t, f.registry, "billing_scheduler_job_errors_total", labels))
}

func TestRunJobPropagatesErrors(t *testing.T) {
	f := setup(t)
	boom := errors.New("boom")
	err := f.sched.runJob(context.Background(), "rollover", time.Second, func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Error(t, f.sched.RunJob(context.Background(), "missing"))
}

func TestRunWakesOnEnqueue(t *testing.T) {
	h := newStubHandler("invoice_payment")
	f := setup(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.sched.Run(ctx)
	}()

	f.queue.Enqueue(Task{Kind: h.kind, ID: 42, At: start})
	select {
	case id := <-h.ran:
		assert.Equal(t, snowflake.ID(42), id)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not run after enqueue")
	}

	cancel()
	<-done
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	f := setup(t)
	f.sched.jobs = []Job{{Name: "rollover", Schedule: "not a cron", Run: func(context.Context) error { return nil }}}
	_, err := f.sched.Start(context.Background())
	assert.Error(t, err)
}

func withResult(labels map[string]string, result string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out["result"] = result
	return out
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
