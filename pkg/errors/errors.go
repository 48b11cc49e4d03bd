package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrShardLoad marks a shard that could not be fetched or decoded. It
	// degrades result completeness and is never fatal to a query.
	ErrShardLoad = errors.New("shard load failed")
	// ErrMalformedRecord marks a single shard record that was skipped.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrQueryInvariant marks a ranking or ordering bug detected while
	// answering one query. The query degrades to an empty result.
	ErrQueryInvariant = errors.New("query engine invariant violated")
	ErrShardNotFound  = errors.New("shard not found")
	ErrSymbolNotFound = errors.New("symbol not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrInternal       = errors.New("internal error")
	ErrTimeout        = errors.New("operation timed out")
	ErrClosed         = errors.New("closed")
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

// Is and As re-export the standard library helpers so callers importing this
// package under the name "errors" keep access to them.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrShardNotFound), errors.Is(err, ErrSymbolNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrShardLoad), errors.Is(err, ErrTimeout), errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
