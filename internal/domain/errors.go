package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy shared by the read and write paths
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrUnavailable         = errors.New("resource temporarily unavailable")
	ErrForbidden           = errors.New("forbidden")
	ErrInternal            = errors.New("internal error")
	ErrTimedOut            = errors.New("timed out")

	// Asset store errors
	ErrAlreadyInUse = errors.New("path is already being written")

	// Download job errors
	ErrAlreadyExists          = errors.New("already exists")
	ErrJobNotFound            = errors.New("download job not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUnsupportedFormat      = errors.New("unsupported output format")
)

// UnsatisfiableRangeError reports a range outside the asset bounds.
// Total is the length advertised back to the client in Content-Range.
type UnsatisfiableRangeError struct {
	Total int64
	Err   error
}

// Error returns the error message
func (e *UnsatisfiableRangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("range not satisfiable for length %d: %v", e.Total, e.Err)
	}
	return fmt.Sprintf("range not satisfiable for length %d", e.Total)
}

// Unwrap returns the underlying error
func (e *UnsatisfiableRangeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRangeNotSatisfiable}
	}
	return []error{ErrRangeNotSatisfiable, e.Err}
}

// NewUnsatisfiableRangeError creates a new UnsatisfiableRangeError
func NewUnsatisfiableRangeError(total int64, err error) *UnsatisfiableRangeError {
	return &UnsatisfiableRangeError{Total: total, Err: err}
}

// PermanentError represents a failure that must never be retried.
type PermanentError struct {
	Err    error
	Reason string
}

// Error returns the error message
func (e *PermanentError) Error() string {
	if e.Reason != "" {
		if e.Err != nil {
			return e.Reason + ": " + e.Err.Error()
		}
		return e.Reason
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "permanent error"
}

// Unwrap returns the underlying error
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new permanent error
func NewPermanentError(err error, reason string) *PermanentError {
	return &PermanentError{Err: err, Reason: reason}
}

// IsPermanent returns true if the error must not be retried
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// RetryableError represents an error that should trigger a retry.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

// Error returns the error message
func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "retryable error"
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error, retryAfter time.Duration) *RetryableError {
	return &RetryableError{Err: err, RetryAfter: retryAfter}
}

// IsRetryable returns true if the error should be retried.
// A permanent error is never retryable, even when it wraps a retryable one.
func IsRetryable(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	var re *RetryableError
	return errors.As(err, &re)
}

// GetRetryAfter returns the retry duration if the error is retryable
func GetRetryAfter(err error) (time.Duration, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}

// failedMessage is the client message of a failure outside the taxonomy
const failedMessage = "download failed"

// PublicMessage returns a failure description safe to show to clients.
// Wrapped detail such as file paths or subprocess output never appears in it;
// only the permanent reason or the taxonomy class does.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}

	var pe *PermanentError
	if errors.As(err, &pe) && pe.Reason != "" {
		return pe.Reason
	}

	switch {
	case errors.Is(err, ErrTimedOut):
		return "download " + ErrTimedOut.Error()
	case errors.Is(err, ErrUnavailable):
		return ErrUnavailable.Error()
	case errors.Is(err, ErrUnsupportedFormat):
		return ErrUnsupportedFormat.Error()
	case errors.Is(err, ErrInvalidInput):
		return ErrInvalidInput.Error()
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	case errors.Is(err, ErrForbidden):
		return ErrForbidden.Error()
	case errors.Is(err, ErrAlreadyInUse):
		return ErrAlreadyInUse.Error()
	}
	return failedMessage
}
