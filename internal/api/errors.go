package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/samcharles93/seqstate/internal/backend"
	"github.com/samcharles93/seqstate/internal/batcher"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// statusFor maps a submit error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, backend.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, backend.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, batcher.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
