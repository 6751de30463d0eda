package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/billingcore/pkg/errs"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound    = errs.New(errs.KindNotFound, "not_found")
	ErrRateLimited = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// statusForKind maps an error kind to the HTTP status returned to clients.
func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict, errs.KindInvalidTransition:
		return http.StatusConflict
	case errs.KindInsufficientCredit:
		return http.StatusPaymentRequired
	case errs.KindInvoiceNotEligible:
		return http.StatusUnprocessableEntity
	case errs.KindGateway, errs.KindDelivery:
		return http.StatusBadGateway
	case errs.KindRepository:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if errors.Is(err, ErrRateLimited) {
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	}

	var e *errs.Error
	if !errors.As(err, &e) || e == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	status := statusForKind(e.Kind)
	switch e.Kind {
	case errs.KindValidation:
		return status, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(e.Code),
					Code:    e.Code,
					Message: strings.ReplaceAll(e.Code, "_", " "),
				},
			},
		}
	case errs.KindRepository, errs.KindUnknown:
		// Storage details stay in the logs.
		return status, errorPayload{
			Type:    e.Kind.String(),
			Message: http.StatusText(status),
		}
	default:
		return status, errorPayload{
			Type:    e.Code,
			Message: strings.ReplaceAll(e.Code, "_", " "),
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// validationErrorField derives the offending field from codes such as
// "invalid_quantity".
func validationErrorField(code string) string {
	if field, ok := strings.CutPrefix(code, "invalid_"); ok && field != "" {
		return field
	}
	return "request"
}

func classifyErrorForLog(err error) string {
	if err == nil {
		return "unknown"
	}
	if asValidationErrors(err) != nil {
		return "validation_error"
	}
	if errors.Is(err, ErrRateLimited) {
		return "rate_limited"
	}
	return errs.KindOf(err).String()
}
