package cluster

import (
	"context"
	"errors"
	"fmt"
)

// PreparationError indicates a job spec is incompatible with the target
// cluster. Not retryable.
type PreparationError struct {
	s string
}

func (e *PreparationError) Error() string {
	return e.s
}

func NewPreparationError(msg string, args ...interface{}) error {
	return &PreparationError{s: fmt.Sprintf(msg, args...)}
}

// SubmissionError indicates a backend rejection or connectivity failure
// while submitting. Retryable.
type SubmissionError struct {
	s     string
	cause error
}

func (e *SubmissionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.s, e.cause)
	}
	return e.s
}

func (e *SubmissionError) Unwrap() error {
	return e.cause
}

func (e *SubmissionError) Retryable() bool {
	return true
}

func NewSubmissionError(cause error, msg string, args ...interface{}) error {
	return &SubmissionError{s: fmt.Sprintf(msg, args...), cause: cause}
}

// PermanentSubmissionError indicates the backend rejected a submission in
// a way retrying cannot fix, e.g. a malformed spec.
type PermanentSubmissionError struct {
	s string
}

func (e *PermanentSubmissionError) Error() string {
	return e.s
}

func (e *PermanentSubmissionError) Retryable() bool {
	return false
}

func NewPermanentSubmissionError(msg string, args ...interface{}) error {
	return &PermanentSubmissionError{s: fmt.Sprintf(msg, args...)}
}

// StatusQueryError indicates a failed status poll. Always transient.
type StatusQueryError struct {
	s     string
	cause error
}

func (e *StatusQueryError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.s, e.cause)
	}
	return e.s
}

func (e *StatusQueryError) Unwrap() error {
	return e.cause
}

func (e *StatusQueryError) Retryable() bool {
	return true
}

func NewStatusQueryError(cause error, msg string, args ...interface{}) error {
	return &StatusQueryError{s: fmt.Sprintf(msg, args...), cause: cause}
}

type retryable interface {
	Retryable() bool
}

// Retryable reports whether err is worth retrying against the backend.
// Context deadline expiry counts as transient; anything that doesn't
// declare itself does not.
func Retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}
