// Package errs defines the error kinds shared by every billing component.
//
// Domain packages declare their sentinels with New so callers can match a
// specific failure with errors.Is and a whole class of failures with KindOf.
package errs

import (
	"errors"
	"strings"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindInvalidTransition
	KindInsufficientCredit
	KindInvoiceNotEligible
	KindGateway
	KindDelivery
	KindRepository
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindInsufficientCredit:
		return "insufficient_credit"
	case KindInvoiceNotEligible:
		return "invoice_not_eligible"
	case KindGateway:
		return "gateway_error"
	case KindDelivery:
		return "delivery_error"
	case KindRepository:
		return "repository_error"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside a stable snake_case code.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a sentinel error of the given kind.
func New(kind Kind, code string) error {
	return &Error{Kind: kind, Code: strings.TrimSpace(code)}
}

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Code: kind.String(), Err: err}
}

// KindOf returns the outermost kind found in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) || e == nil {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// Transient reports whether retrying the same call may succeed.
func Transient(err error) bool {
	return Is(err, KindRepository) || Is(err, KindGateway)
}
