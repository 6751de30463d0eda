package events

import (
	"encoding/json"
	"fmt"
)

// Type is the closed set of billing domain events.
type Type uint8

const (
	typeUnknown Type = iota

	TypeSubscriptionCreated
	TypeSubscriptionActivated
	TypeSubscriptionUpdated
	TypeSubscriptionPastDue
	TypeSubscriptionRecovered
	TypeSubscriptionUnpaid
	TypeSubscriptionCancelScheduled
	TypeSubscriptionResumed
	TypeSubscriptionRenewed
	TypeSubscriptionCanceled

	TypeInvoiceCreated
	TypeInvoiceFinalized
	TypeInvoicePartiallyPaid
	TypeInvoicePaid
	TypeInvoicePaymentFailed
	TypeInvoiceVoided

	TypePaymentSucceeded
	TypePaymentFailed
	TypePaymentRetriesExhausted
	TypePaymentRefunded

	TypeCreditIssued
	TypeCreditApplied

	typeSentinel
)

var typeNames = [...]string{
	typeUnknown:                     "unknown",
	TypeSubscriptionCreated:         "subscription.created",
	TypeSubscriptionActivated:       "subscription.activated",
	TypeSubscriptionUpdated:         "subscription.updated",
	TypeSubscriptionPastDue:         "subscription.past_due",
	TypeSubscriptionRecovered:       "subscription.recovered",
	TypeSubscriptionUnpaid:          "subscription.unpaid",
	TypeSubscriptionCancelScheduled: "subscription.cancel_scheduled",
	TypeSubscriptionResumed:         "subscription.resumed",
	TypeSubscriptionRenewed:         "subscription.renewed",
	TypeSubscriptionCanceled:        "subscription.canceled",
	TypeInvoiceCreated:              "invoice.created",
	TypeInvoiceFinalized:            "invoice.finalized",
	TypeInvoicePartiallyPaid:        "invoice.partially_paid",
	TypeInvoicePaid:                 "invoice.paid",
	TypeInvoicePaymentFailed:        "invoice.payment_failed",
	TypeInvoiceVoided:               "invoice.voided",
	TypePaymentSucceeded:            "payment.succeeded",
	TypePaymentFailed:               "payment.failed",
	TypePaymentRetriesExhausted:     "payment.retries_exhausted",
	TypePaymentRefunded:             "payment.refunded",
	TypeCreditIssued:                "credit.issued",
	TypeCreditApplied:               "credit.applied",
}

// Category groups event types by the aggregate that emits them.
type Category uint8

const (
	CategorySubscription Category = iota + 1
	CategoryInvoice
	CategoryPayment
	CategoryCredit
)

// All returns every valid event type in declaration order.
func All() []Type {
	out := make([]Type, 0, int(typeSentinel)-1)
	for t := typeUnknown + 1; t < typeSentinel; t++ {
		out = append(out, t)
	}
	return out
}

func (t Type) Valid() bool {
	return t > typeUnknown && t < typeSentinel
}

func (t Type) String() string {
	if !t.Valid() {
		return typeNames[typeUnknown]
	}
	return typeNames[t]
}

func (t Type) Category() Category {
	switch t {
	case TypeSubscriptionCreated, TypeSubscriptionActivated, TypeSubscriptionUpdated,
		TypeSubscriptionPastDue, TypeSubscriptionRecovered, TypeSubscriptionUnpaid,
		TypeSubscriptionCancelScheduled, TypeSubscriptionResumed, TypeSubscriptionRenewed,
		TypeSubscriptionCanceled:
		return CategorySubscription
	case TypeInvoiceCreated, TypeInvoiceFinalized, TypeInvoicePartiallyPaid,
		TypeInvoicePaid, TypeInvoicePaymentFailed, TypeInvoiceVoided:
		return CategoryInvoice
	case TypePaymentSucceeded, TypePaymentFailed, TypePaymentRetriesExhausted, TypePaymentRefunded:
		return CategoryPayment
	case TypeCreditIssued, TypeCreditApplied:
		return CategoryCredit
	case typeUnknown, typeSentinel:
		return 0
	}
	return 0
}

func ParseType(s string) (Type, error) {
	for t := typeUnknown + 1; t < typeSentinel; t++ {
		if typeNames[t] == s {
			return t, nil
		}
	}
	return typeUnknown, fmt.Errorf("unknown event type %q", s)
}

func (t Type) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid event type %d", uint8(t))
	}
	return json.Marshal(t.String())
}

func (t *Type) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
