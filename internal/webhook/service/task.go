package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/scheduler"
	webhookdomain "github.com/smallbiznis/billingcore/internal/webhook/domain"
)

// TaskHandler runs queued webhook deliveries for the scheduler.
type TaskHandler struct {
	svc webhookdomain.Service
}

func NewTaskHandler(svc webhookdomain.Service) *TaskHandler {
	return &TaskHandler{svc: svc}
}

func (h *TaskHandler) Kind() scheduler.Kind { return TaskKind }

func (h *TaskHandler) Run(ctx context.Context, id snowflake.ID) error {
	_, err := h.svc.Attempt(ctx, id)
	if errors.Is(err, webhookdomain.ErrDeliveryNotFound) {
		return nil
	}
	return err
}

func (h *TaskHandler) Pending(ctx context.Context) ([]scheduler.Task, error) {
	deliveries, err := h.svc.ScheduledDeliveries(ctx, 0)
	if err != nil {
		return nil, err
	}
	tasks := make([]scheduler.Task, 0, len(deliveries))
	for _, d := range deliveries {
		if d.NextAttemptAt == nil {
			continue
		}
		tasks = append(tasks, scheduler.Task{Kind: TaskKind, ID: d.ID, At: *d.NextAttemptAt})
	}
	return tasks, nil
}
