package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Kind names the component that owns a task.
type Kind string

// Task is a unit of deferred work: run the handler for Kind on entity ID no
// earlier than At.
type Task struct {
	Kind Kind
	ID   snowflake.ID
	At   time.Time
}

// Enqueuer accepts tasks from the components that schedule retries.
type Enqueuer interface {
	Enqueue(Task)
}

// Handler executes tasks of one kind. Run must re-check the owning entity
// and return nil without side effects when the work is no longer needed.
type Handler interface {
	Kind() Kind
	Run(ctx context.Context, id snowflake.ID) error
	// Pending lists the persisted tasks used to rebuild the queue on startup.
	Pending(ctx context.Context) ([]Task, error)
}
