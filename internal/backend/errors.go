package backend

import "errors"

var (
	ErrInvalidConfig  = errors.New("invalid model config")
	ErrMalformedInput = errors.New("malformed input")
	ErrNotInitialized = errors.New("model not initialized")
	ErrModelNotFound  = errors.New("model not found")
)

type inputError struct {
	msg string
}

func (e inputError) Error() string {
	return e.msg
}

func (e inputError) Unwrap() error {
	return ErrMalformedInput
}

func newInputError(msg string) error {
	return inputError{msg: msg}
}
