package domain

import "errors"

// Validation errors returned by the queue and the control API.
var (
	ErrUnknownAction  = errors.New("unknown offline action")
	ErrUnknownEntity  = errors.New("unknown entity")
	ErrInvalidPayload = errors.New("payload must be a JSON object with an id")
)

type permanentError struct {
	cause error
}

func (e permanentError) Error() string {
	if e.cause == nil {
		return "permanent error"
	}
	return e.cause.Error()
}

func (e permanentError) Unwrap() error {
	return e.cause
}

// Permanent marks a replay error as non-retryable. The queue drops the
// action without spending its remaining retries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{cause: err}
}

// IsPermanent reports whether err was explicitly marked as non-retryable.
func IsPermanent(err error) bool {
	var target permanentError
	return errors.As(err, &target)
}
