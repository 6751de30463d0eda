package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/billingcore/pkg/errs"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonRepository           = "repository"
	JobReasonBusinessRule         = "business_rule"
	JobReasonUnknown              = "unknown"
)

// NewRegistry returns the registry served on /metrics.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// SchedulerMetrics captures the retry queue and background job health.
type SchedulerMetrics struct {
	jobRuns      *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobErrors    *prometheus.CounterVec
	queueDepth   prometheus.Gauge
	taskRuns     *prometheus.CounterVec
	taskLag      *prometheus.HistogramVec
	lockWait     *prometheus.HistogramVec
	lockContends *prometheus.CounterVec
}

func NewSchedulerMetrics(reg *prometheus.Registry, cfg Config) *SchedulerMetrics {
	return newSchedulerMetrics(reg, cfg)
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "billingcore"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billing_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "billing_scheduler_job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billing_scheduler_job_errors_total",
			Help:        "Scheduler job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "billing_scheduler_queue_depth",
			Help:        "Tasks waiting in the next-attempt queue.",
			ConstLabels: constLabels,
		}),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billing_scheduler_task_runs_total",
			Help:        "Queued task executions by kind and outcome.",
			ConstLabels: constLabels,
		}, []string{"kind", "result"}),
		taskLag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "billing_scheduler_task_lag_seconds",
			Help:        "Delay between a task's next-attempt time and its execution.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			ConstLabels: constLabels,
		}, []string{"kind"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "billing_entity_lock_wait_seconds",
			Help:        "Time spent waiting for a per-entity advisory lock.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			ConstLabels: constLabels,
		}, []string{"entity"}),
		lockContends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billing_entity_lock_contended_total",
			Help:        "Lock acquisitions that had to wait for another holder.",
			ConstLabels: constLabels,
		}, []string{"entity"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.jobRuns,
			m.jobDuration,
			m.jobErrors,
			m.queueDepth,
			m.taskRuns,
			m.taskLag,
			m.lockWait,
			m.lockContends,
		)
	}
	return m
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *SchedulerMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *SchedulerMetrics) IncTaskRun(kind, result string) {
	if m == nil {
		return
	}
	m.taskRuns.WithLabelValues(kind, result).Inc()
}

func (m *SchedulerMetrics) ObserveTaskLag(kind string, lag time.Duration) {
	if m == nil {
		return
	}
	if lag < 0 {
		lag = 0
	}
	m.taskLag.WithLabelValues(kind).Observe(lag.Seconds())
}

func (m *SchedulerMetrics) ObserveLockWait(entity string, d time.Duration, contended bool) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(entity).Observe(d.Seconds())
	if contended {
		m.lockContends.WithLabelValues(entity).Inc()
	}
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return JobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return JobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return JobReasonUniqueViolation
	case errs.Is(err, errs.KindRepository):
		return JobReasonRepository
	case errs.KindOf(err) != errs.KindUnknown:
		return JobReasonBusinessRule
	default:
		return JobReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
