package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/billingcore/internal/clock"
	obsmetrics "github.com/smallbiznis/billingcore/internal/observability/metrics"
	"github.com/smallbiznis/billingcore/pkg/errs"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Job is a periodic sweep run on a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	GenID    *snowflake.Node
	Queue    *Queue
	Handlers []Handler                   `group:"scheduler_handlers"`
	Jobs     []Job                       `group:"scheduler_jobs"`
	Metrics  *obsmetrics.SchedulerMetrics `optional:"true"`
	Config   Config                      `optional:"true"`
}

// Scheduler pops due tasks off the queue and runs them on a bounded worker
// pool. Cron jobs run sweeps such as period rollover and queue recovery.
type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	genID    *snowflake.Node
	queue    *Queue
	handlers map[Kind]Handler
	jobs     []Job
	metrics  *obsmetrics.SchedulerMetrics
	cron     *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Queue == nil || p.GenID == nil {
		return nil, ErrInvalidConfig
	}
	handlers := make(map[Kind]Handler, len(p.Handlers))
	for _, h := range p.Handlers {
		if _, dup := handlers[h.Kind()]; dup {
			return nil, fmt.Errorf("%w: duplicate handler for %s", ErrInvalidConfig, h.Kind())
		}
		handlers[h.Kind()] = h
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler"),
		cfg:      p.Config.withDefaults(),
		clock:    p.Clock,
		genID:    p.GenID,
		queue:    p.Queue,
		handlers: handlers,
		jobs:     p.Jobs,
		metrics:  p.Metrics,
	}, nil
}

// Recover rebuilds the queue from persisted state: every handler reports
// the work it still owes. Tasks already queued are deduplicated.
func (s *Scheduler) Recover(ctx context.Context) error {
	var err error
	for kind, h := range s.handlers {
		tasks, pendingErr := h.Pending(ctx)
		if pendingErr != nil {
			err = errors.Join(err, fmt.Errorf("%s: %w", kind, pendingErr))
			continue
		}
		for _, task := range tasks {
			s.queue.Enqueue(task)
		}
		if run := jobRunFromContext(ctx); run != nil {
			run.AddProcessed(len(tasks))
		}
	}
	s.metrics.SetQueueDepth(s.queue.Len())
	return err
}

// RunDue executes every task due at the clock's current time and returns
// how many ran.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.clock.Now()
	tasks := s.queue.PopDue(now)
	if len(tasks) == 0 {
		return 0
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			s.runTask(gctx, task, now)
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.SetQueueDepth(s.queue.Len())
	return len(tasks)
}

func (s *Scheduler) runTask(ctx context.Context, task Task, now time.Time) {
	log := s.log.With(
		zap.String("kind", string(task.Kind)),
		zap.String("task_id", task.ID.String()),
	)
	h, ok := s.handlers[task.Kind]
	if !ok {
		s.metrics.IncTaskRun(string(task.Kind), "unhandled")
		log.Error("no handler for task kind")
		return
	}
	s.metrics.ObserveTaskLag(string(task.Kind), now.Sub(task.At))

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	defer cancel()

	err := h.Run(ctx, task.ID)
	switch {
	case err == nil:
		s.metrics.IncTaskRun(string(task.Kind), "success")
	case retryable(err):
		next := s.clock.Now().Add(s.cfg.RetryDelay)
		s.queue.Enqueue(Task{Kind: task.Kind, ID: task.ID, At: next})
		s.metrics.IncTaskRun(string(task.Kind), "requeued")
		log.Warn("task failed, requeued", zap.Error(err), zap.Time("next_run_at", next))
	default:
		s.metrics.IncTaskRun(string(task.Kind), "error")
		log.Error("task failed", zap.Error(err), zap.String("error_type", obsmetrics.ClassifyJobReason(err)))
	}
}

// retryable reports errors that may clear up on their own: storage and
// gateway hiccups, lock contention and timeouts.
func retryable(err error) bool {
	return errs.Transient(err) ||
		errs.Is(err, errs.KindConflict) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Run recovers the queue, then sleeps until the earliest task is due, a new
// task is enqueued or the poll interval elapses. It returns when ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	if err := s.runJob(ctx, "recovery", s.cfg.TaskTimeout, s.Recover); err != nil {
		s.log.Warn("initial queue recovery failed", zap.Error(err))
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		s.RunDue(ctx)

		wait := s.cfg.PollInterval
		if at, ok := s.queue.NextAt(); ok {
			if d := at.Sub(s.clock.Now()); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.queue.Wake():
		}
	}
}

// Start registers the cron jobs and begins the task loop in the
// background. The returned function stops both and waits for them.
func (s *Scheduler) Start(ctx context.Context) (func(context.Context) error, error) {
	ctx, cancel := context.WithCancel(ctx)

	c := cron.New(cron.WithLocation(time.UTC))
	jobs := append([]Job{{
		Name:     "recovery",
		Schedule: s.cfg.RecoverySchedule,
		Timeout:  s.cfg.TaskTimeout,
		Run:      s.Recover,
	}}, s.jobs...)
	for _, job := range jobs {
		job := job
		if _, err := c.AddFunc(job.Schedule, func() {
			if err := s.runJob(ctx, job.Name, job.Timeout, job.Run); err != nil {
				s.log.Warn("scheduler job failed", zap.String("job", job.Name), zap.Error(err))
			}
		}); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %s %q: %w", job.Name, job.Schedule, err)
		}
		s.log.Info("scheduler job registered", zap.String("job", job.Name), zap.String("schedule", job.Schedule))
	}
	s.cron = c
	c.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	return func(stopCtx context.Context) error {
		cancel()
		cronDone := c.Stop().Done()
		select {
		case <-done:
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
		select {
		case <-cronDone:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}, nil
}

// RunJob runs one registered cron job immediately.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	if name == "recovery" {
		return s.runJob(ctx, name, s.cfg.TaskTimeout, s.Recover)
	}
	for _, job := range s.jobs {
		if job.Name == name {
			return s.runJob(ctx, job.Name, job.Timeout, job.Run)
		}
	}
	return fmt.Errorf("unknown scheduler job %q", name)
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	if timeout <= 0 {
		timeout = s.cfg.TaskTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	// Deadline is a soft timeout; the next run picks up the rest.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
