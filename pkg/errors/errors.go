// Package errors defines the failure classes of the rebuild pipeline and maps
// them to HTTP status codes for the webhook layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrFetch              = errors.New("source fetch failed")
	ErrParse              = errors.New("source payload malformed")
	ErrIndexWrite         = errors.New("index write failed")
	ErrAliasSwap          = errors.New("alias swap failed")
	ErrBackendUnavailable = errors.New("search backend unavailable")
	ErrRunInProgress      = errors.New("rebuild already in progress")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternal           = errors.New("internal error")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Kind returns a short, stable label for the failure class of err, suitable
// for metrics labels and run records.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrIndexWrite):
		return "index_write"
	case errors.Is(err, ErrAliasSwap):
		return "alias_swap"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, ErrRunInProgress):
		return "run_in_progress"
	default:
		return "internal"
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrFetch):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrParse), errors.Is(err, ErrIndexWrite), errors.Is(err, ErrAliasSwap):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
