package service

import "errors"

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrLabelMismatch = errors.New("model output does not match label list")
	ErrEmptyLabels   = errors.New("label list is empty")
)

// DecodeError reports image bytes that could not be turned into pixels.
// It matches ErrInvalidInput.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "failed to decode image: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrInvalidInput
}
