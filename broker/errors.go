package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork marks transient transport failures that are safe to retry.
	ErrNetwork = errors.New("broker network error")
	// ErrRejected marks orders the broker refused. Never retried.
	ErrRejected = errors.New("order rejected")
	ErrNotFound = errors.New("order not found")
)

// RejectedError carries the broker's rejection reason.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("order rejected: %s", e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Reject returns a *RejectedError with a formatted reason.
func Reject(format string, args ...any) error {
	return &RejectedError{Reason: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether err is a retryable network failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsUnknownOutcome reports whether the call may or may not have reached the
// broker, so the order state must be reconciled before retrying. Network
// errors never reached it and rejections were answered.
func IsUnknownOutcome(err error) bool {
	if err == nil || IsTransient(err) || errors.Is(err, ErrRejected) {
		return false
	}
	return true
}
