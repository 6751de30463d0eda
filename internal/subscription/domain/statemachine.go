package domain

import (
	"fmt"
	"time"

	"github.com/smallbiznis/billingcore/internal/events"
)

// TransitionEvent is the closed set of inputs to the lifecycle state machine.
type TransitionEvent uint8

const (
	eventUnknown TransitionEvent = iota
	EventActivate
	EventPaymentFailed
	EventPaymentRecovered
	EventRetriesExhausted
	EventCancel
	EventScheduleCancel
	EventResume
	EventRenew
)

func (e TransitionEvent) String() string {
	switch e {
	case EventActivate:
		return "ACTIVATE"
	case EventPaymentFailed:
		return "PAYMENT_FAILED"
	case EventPaymentRecovered:
		return "PAYMENT_RECOVERED"
	case EventRetriesExhausted:
		return "RETRIES_EXHAUSTED"
	case EventCancel:
		return "CANCEL"
	case EventScheduleCancel:
		return "SCHEDULE_CANCEL"
	case EventResume:
		return "RESUME"
	case EventRenew:
		return "RENEW"
	default:
		return "UNKNOWN"
	}
}

func ParseTransitionEvent(s string) (TransitionEvent, error) {
	for e := EventActivate; e <= EventRenew; e++ {
		if e.String() == s {
			return e, nil
		}
	}
	return eventUnknown, fmt.Errorf("%w: %q", ErrInvalidEvent, s)
}

// InvalidTransitionError reports an event the current status does not accept.
type InvalidTransitionError struct {
	From  SubscriptionStatus
	Event TransitionEvent
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid_transition: %s does not accept %s", e.From, e.Event)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

type transitionOptions struct {
	periodEnd time.Time
}

type TransitionOption func(*transitionOptions)

// WithPeriodEnd sets the end of the next period. Required by EventRenew.
func WithPeriodEnd(end time.Time) TransitionOption {
	return func(o *transitionOptions) { o.periodEnd = end }
}

// Transition applies ev to sub and returns the new value along with the
// domain events it produced. It has no side effects; on error sub is
// returned unchanged. Accepted events that change nothing return no events.
func Transition(sub Subscription, ev TransitionEvent, at time.Time, opts ...TransitionOption) (Subscription, []events.Event, error) {
	var o transitionOptions
	for _, opt := range opts {
		opt(&o)
	}

	next := sub
	from := sub.Status
	var emitted events.Type

	switch ev {
	case EventActivate:
		if from != SubscriptionStatusTrialing {
			return sub, nil, invalid(from, ev)
		}
		next.Status = SubscriptionStatusActive
		emitted = events.TypeSubscriptionActivated

	case EventPaymentFailed:
		switch from {
		case SubscriptionStatusActive:
			next.Status = SubscriptionStatusPastDue
			emitted = events.TypeSubscriptionPastDue
		case SubscriptionStatusPastDue:
			return sub, nil, nil
		default:
			return sub, nil, invalid(from, ev)
		}

	case EventPaymentRecovered:
		// UNPAID only leaves through cancellation.
		switch from {
		case SubscriptionStatusPastDue:
			next.Status = SubscriptionStatusActive
			emitted = events.TypeSubscriptionRecovered
		case SubscriptionStatusActive:
			return sub, nil, nil
		default:
			return sub, nil, invalid(from, ev)
		}

	case EventRetriesExhausted:
		if from != SubscriptionStatusPastDue {
			return sub, nil, invalid(from, ev)
		}
		next.Status = SubscriptionStatusUnpaid
		emitted = events.TypeSubscriptionUnpaid

	case EventCancel:
		if from.Terminal() {
			return sub, nil, invalid(from, ev)
		}
		canceledAt := at
		next.Status = SubscriptionStatusCanceled
		next.CancelAtPeriodEnd = false
		next.CanceledAt = &canceledAt
		emitted = events.TypeSubscriptionCanceled

	case EventScheduleCancel:
		if !schedulable(from) {
			return sub, nil, invalid(from, ev)
		}
		if sub.CancelAtPeriodEnd {
			return sub, nil, nil
		}
		next.CancelAtPeriodEnd = true
		emitted = events.TypeSubscriptionCancelScheduled

	case EventResume:
		if !schedulable(from) {
			return sub, nil, invalid(from, ev)
		}
		if !sub.CancelAtPeriodEnd {
			return sub, nil, nil
		}
		next.CancelAtPeriodEnd = false
		emitted = events.TypeSubscriptionResumed

	case EventRenew:
		if !schedulable(from) {
			return sub, nil, invalid(from, ev)
		}
		if !o.periodEnd.After(sub.CurrentPeriodEnd) {
			return sub, nil, ErrInvalidPeriod
		}
		next.CurrentPeriodStart = sub.CurrentPeriodEnd
		next.CurrentPeriodEnd = o.periodEnd
		emitted = events.TypeSubscriptionRenewed

	default:
		return sub, nil, invalid(from, ev)
	}

	next.Version++
	next.UpdatedAt = at
	return next, []events.Event{newEvent(emitted, next, from, at)}, nil
}

func schedulable(s SubscriptionStatus) bool {
	switch s {
	case SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

func invalid(from SubscriptionStatus, ev TransitionEvent) error {
	return &InvalidTransitionError{From: from, Event: ev}
}

func newEvent(t events.Type, sub Subscription, from SubscriptionStatus, at time.Time) events.Event {
	return events.New(t, at, EventData(sub, from))
}

// EventData is the webhook payload shared by every subscription event.
func EventData(sub Subscription, previous SubscriptionStatus) map[string]any {
	data := map[string]any{
		"subscription_id":      sub.ID.String(),
		"customer_id":          sub.CustomerID.String(),
		"plan_id":              sub.PlanID.String(),
		"quantity":             sub.Quantity,
		"status":               string(sub.Status),
		"current_period_start": sub.CurrentPeriodStart,
		"current_period_end":   sub.CurrentPeriodEnd,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
	}
	if previous != "" && previous != sub.Status {
		data["previous_status"] = string(previous)
	}
	return data
}
