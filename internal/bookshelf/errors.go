package bookshelf

import (
	"errors"
	"net/http"
)

// Error kinds. Use errors.Is to classify an error returned by the Service.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrUnexpected = errors.New("unexpected error")
)

// Error is returned by every failing Service operation. Message is safe to
// show to clients; Err holds the underlying cause, if any.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func validationError(message string) error {
	return &Error{Kind: ErrValidation, Message: message}
}

func notFoundError(message string) error {
	return &Error{Kind: ErrNotFound, Message: message}
}

func unexpectedError(message string, cause error) error {
	return &Error{Kind: ErrUnexpected, Message: message, Err: cause}
}

// statusFor maps an error to its HTTP status and client message.
func statusFor(err error) (int, string) {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, "internal server error"
	}
	switch {
	case errors.Is(e, ErrValidation):
		return http.StatusBadRequest, e.Message
	case errors.Is(e, ErrNotFound):
		return http.StatusNotFound, e.Message
	default:
		return http.StatusInternalServerError, e.Message
	}
}

// outcome labels an operation result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "unexpected_error"
	}
}
