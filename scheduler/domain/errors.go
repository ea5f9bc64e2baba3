package domain

import (
	"errors"
	"fmt"
)

// ValidationError indicates input of a bad shape. Rejected immediately,
// no side effects.
type ValidationError struct {
	s string
}

func (e *ValidationError) Error() string {
	return e.s
}

func NewValidationError(msg string, args ...interface{}) error {
	return &ValidationError{s: fmt.Sprintf(msg, args...)}
}

// NotFoundError indicates a referenced Job, Schedule or Cluster is
// absent.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func NewNotFoundError(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConflictError indicates a uniqueness invariant violation, e.g. a
// second active schedule for a job.
type ConflictError struct {
	s string
}

func (e *ConflictError) Error() string {
	return e.s
}

// NewDuplicateScheduleError reports that jobID already has an active
// schedule.
func NewDuplicateScheduleError(jobID string) error {
	return &ConflictError{s: fmt.Sprintf("job %s already has an active schedule", jobID)}
}

// NewDuplicateUserError reports that email is already registered.
func NewDuplicateUserError(email string) error {
	return &ConflictError{s: fmt.Sprintf("user %s already exists", email)}
}

// NoEligibleClusterError indicates no cluster satisfies a job's required
// capabilities. Reported to the caller, never retried automatically.
type NoEligibleClusterError struct {
	JobID        string
	RequiredCaps []string
}

func (e *NoEligibleClusterError) Error() string {
	return fmt.Sprintf("no cluster is eligible to run job %s (requires %v)", e.JobID, e.RequiredCaps)
}

// UnauthorizedError indicates the Identity Provider denied the request.
type UnauthorizedError struct {
	Action string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %s", e.Action)
}

func NewUnauthorizedError(action string) error {
	return &UnauthorizedError{Action: action}
}

// TransientBackendError wraps a retryable backend failure that exhausted
// its retry budget inside the reconciliation loop.
type TransientBackendError struct {
	Cause error
}

func (e *TransientBackendError) Error() string {
	return fmt.Sprintf("transient backend failure: %v", e.Cause)
}

func (e *TransientBackendError) Unwrap() error {
	return e.Cause
}

func (e *TransientBackendError) Retryable() bool {
	return true
}

// PermanentBackendError wraps a non-retryable backend rejection.
type PermanentBackendError struct {
	Cause error
}

func (e *PermanentBackendError) Error() string {
	return fmt.Sprintf("permanent backend failure: %v", e.Cause)
}

func (e *PermanentBackendError) Unwrap() error {
	return e.Cause
}

func (e *PermanentBackendError) Retryable() bool {
	return false
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

func IsUnauthorized(err error) bool {
	var u *UnauthorizedError
	return errors.As(err, &u)
}
