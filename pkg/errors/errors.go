package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMalformedMessage = errors.New("malformed stream message")
	ErrSerialization    = errors.New("serialization failed")
	ErrClassifier       = errors.New("classifier unavailable")
	ErrLookup           = errors.New("place lookup failed")
	ErrPublish          = errors.New("publish to stream failed")
	ErrRequestNotFound  = errors.New("request not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternal         = errors.New("internal error")
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

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrRequestNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMalformedMessage):
		return http.StatusBadRequest
	case errors.Is(err, ErrClassifier), errors.Is(err, ErrPublish):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
