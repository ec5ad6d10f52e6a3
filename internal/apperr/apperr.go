package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind - Category of a failure. Kinds survive wrapping and are surfaced to clients as-is.
type Kind string

const (
	Configuration       Kind = "configuration_error"
	InvalidRequest      Kind = "invalid_request"
	NotFound            Kind = "not_found"
	DimensionMismatch   Kind = "dimension_mismatch"
	ProviderUnavailable Kind = "provider_unavailable"
	NotInitialized      Kind = "not_initialized"
	Internal            Kind = "internal"
)

// Error - A failure tagged with its Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + string(e.Kind)
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New - Wrap err with a kind. A nil err still yields an error carrying the kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf - Like New, but formats the cause.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf - The outermost Kind found in the chain. Deadline and cancellation errors without a
// Kind count as provider failures since they only come from outbound calls.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ProviderUnavailable
	}
	return Internal
}

// Is - Reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus - Status code for a kind.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Configuration, InvalidRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case DimensionMismatch:
		return http.StatusConflict
	case ProviderUnavailable:
		return http.StatusBadGateway
	case NotInitialized:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
