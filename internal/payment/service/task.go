package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	"github.com/smallbiznis/billingcore/internal/scheduler"
)

// TaskHandler runs scheduled payment retries for the scheduler.
type TaskHandler struct {
	svc paymentdomain.Service
}

func NewTaskHandler(svc paymentdomain.Service) *TaskHandler {
	return &TaskHandler{svc: svc}
}

func (h *TaskHandler) Kind() scheduler.Kind { return TaskKind }

func (h *TaskHandler) Run(ctx context.Context, id snowflake.ID) error {
	_, err := h.svc.ExecuteAttempt(ctx, id)
	if errors.Is(err, paymentdomain.ErrAttemptNotFound) {
		return nil
	}
	return err
}

func (h *TaskHandler) Pending(ctx context.Context) ([]scheduler.Task, error) {
	attempts, err := h.svc.ScheduledAttempts(ctx, 0)
	if err != nil {
		return nil, err
	}
	tasks := make([]scheduler.Task, 0, len(attempts))
	for _, attempt := range attempts {
		tasks = append(tasks, scheduler.Task{Kind: TaskKind, ID: attempt.ID, At: attempt.ScheduledAt})
	}
	return tasks, nil
}
