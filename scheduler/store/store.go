// Package store persists Job and Schedule records and enforces the
// schedule lifecycle invariants over the persistence layer.
package store

import (
	"context"

	"github.com/blackcap/blackcap/scheduler/domain"
)

// ScheduleStore is the contract the scheduling core programs against.
//
// Batch operations isolate failures per item: they return a per-item
// result list and never abort the whole batch because one item failed.
// The create path enforces, transactionally, that the referenced job
// exists and has no currently-active schedule.
type ScheduleStore interface {
	// CreateJob persists a new job record. The job id must be unique.
	CreateJob(ctx context.Context, job *domain.Job) error

	// GetJob fetches a job by id, or a *domain.NotFoundError.
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)

	// UpdateJobStatus advances a job's status. Backward transitions and
	// transitions out of a terminal state are not applied; changed
	// reports whether a write happened.
	UpdateJobStatus(ctx context.Context, jobID string, to domain.Status) (changed bool, err error)

	// CreateSchedules persists one schedule per request on behalf of
	// user. Per-item failures: *domain.NotFoundError if the job is
	// absent, *domain.ConflictError if the job already has an active
	// schedule. Creating a schedule moves a PENDING job to SCHEDULED.
	CreateSchedules(ctx context.Context, reqs []domain.ScheduledCreateRequest, user *domain.User) []domain.ScheduleResult

	// GetSchedules returns every schedule matching the query. No match
	// is an empty result, not an error. An unknown query type fails with
	// a *domain.ValidationError.
	GetSchedules(ctx context.Context, q domain.ScheduleGetQuery) ([]domain.Schedule, error)

	// UpdateSchedules applies the non-nil fields of each request.
	// Missing schedules fail per item with a *domain.NotFoundError.
	// Cancellation is one-way: a request with Cancelled=false fails
	// with a *domain.ValidationError.
	UpdateSchedules(ctx context.Context, reqs []domain.ScheduleUpdateRequest) []domain.ScheduleResult

	// DeleteSchedules removes schedule rows. Missing rows are reported
	// in the result, not treated as fatal.
	DeleteSchedules(ctx context.Context, reqs []domain.ScheduleDeleteRequest) ([]domain.DeleteResult, error)

	// ListActiveSchedules returns every non-cancelled schedule whose job
	// has not reached a terminal status. This is the reconciler's work
	// list.
	ListActiveSchedules(ctx context.Context) ([]domain.Schedule, error)
}

// UserStore persists registered users for the Identity Provider.
type UserStore interface {
	// CreateUser persists a user and their password hash.
	CreateUser(ctx context.Context, user *domain.User, passwordHash []byte) error

	// GetUserByEmail fetches a user and their password hash, or a
	// *domain.NotFoundError.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, []byte, error)
}
