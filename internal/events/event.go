package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Event is the envelope delivered to webhook endpoints and internal
// subscribers. The id is stable across redeliveries so consumers can dedupe.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	CreatedAt time.Time      `json:"createdAt"`
	Data      map[string]any `json:"data"`
}

func New(t Type, at time.Time, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		ID:        "evt_" + ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
		Type:      t,
		CreatedAt: at.UTC(),
		Data:      data,
	}
}

// Publisher fans events out after the emitting transaction committed.
type Publisher interface {
	Publish(ctx context.Context, evs ...Event) error
}

// Subscriber receives published events. Subscribers must not block on
// network I/O; long-running work is queued.
type Subscriber interface {
	Handle(ctx context.Context, ev Event) error
}

type SubscriberFunc func(ctx context.Context, ev Event) error

func (f SubscriberFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

type Bus struct {
	log         *zap.Logger
	subscribers []Subscriber
}

func NewBus(log *zap.Logger, subscribers ...Subscriber) *Bus {
	return &Bus{log: log.Named("events.bus"), subscribers: subscribers}
}

// Publish hands every event to every subscriber. A failing subscriber does
// not stop the others; the joined error is returned.
func (b *Bus) Publish(ctx context.Context, evs ...Event) error {
	var err error
	for _, ev := range evs {
		if !ev.Type.Valid() {
			err = errors.Join(err, errors.New("invalid event type"))
			continue
		}
		for _, sub := range b.subscribers {
			if subErr := sub.Handle(ctx, ev); subErr != nil {
				b.log.Warn("event subscriber failed",
					zap.String("event_id", ev.ID),
					zap.String("event_type", ev.Type.String()),
					zap.Error(subErr),
				)
				err = errors.Join(err, subErr)
			}
		}
	}
	return err
}

// Recorder is an in-memory Publisher for tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, evs ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, evs...)
	return nil
}

func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, 0, len(r.Events))
	for _, ev := range r.Events {
		out = append(out, ev.Type)
	}
	return out
}

// Count returns how many recorded events have type t.
func (r *Recorder) Count(t Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.Events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
