package errors

import (
	"errors"
	"fmt"
)

var (
	ErrWorkerPanic      = fmt.Errorf("worker panic")
	ErrNotFound         = fmt.Errorf("file not found")
	ErrInvalidUpload    = fmt.Errorf("invalid upload request")
	ErrStorageWrite     = fmt.Errorf("storage write failed")
	ErrStorageRead      = fmt.Errorf("storage read failed")
	ErrBrokerInit       = fmt.Errorf("broker initialization failed")
	ErrChannelNotReady  = fmt.Errorf("broker channel not ready")
	ErrPublish          = fmt.Errorf("broker publish failed")
	ErrDispatcherClosed = fmt.Errorf("dispatch queue is closed")
	ErrRetryExhausted   = fmt.Errorf("retry attempts exhausted")
)

// PermanentError marks a failure that no amount of retrying can fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the retry loop gives up on the first attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err must not be retried.
// Lookups on missing files, rejected input and a closed dispatcher are permanent
// even when they were not explicitly wrapped.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return true
	}
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidUpload) ||
		errors.Is(err, ErrDispatcherClosed)
}

// RetryExhaustedError carries the failure of the last attempt.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrRetryExhausted, e.Attempts, e.Err)
}

// Unwrap exposes both ErrRetryExhausted and the last failure to errors.Is / errors.As.
func (e *RetryExhaustedError) Unwrap() []error {
	return []error{ErrRetryExhausted, e.Err}
}
