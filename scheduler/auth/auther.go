// Package auth is the Identity Provider surface the scheduling core
// calls before honoring mutating requests.
package auth

import (
	"context"
	"errors"

	"github.com/blackcap/blackcap/scheduler/domain"
)

// Action names an operation a caller may be authorized for.
type Action string

const (
	ActionCreateSchedule Action = "schedule.create"
	ActionGetSchedule    Action = "schedule.get"
	ActionUpdateSchedule Action = "schedule.update"
	ActionDeleteSchedule Action = "schedule.delete"
)

// ErrNoCookie indicates the request carried no session cookie at all.
var ErrNoCookie = errors.New("no session cookie")

// ErrInvalidCookie indicates a cookie was present but failed to decode
// or verify. Kept distinct from ErrNoCookie so the caller can log the
// security-relevant case.
var ErrInvalidCookie = errors.New("invalid session cookie")

// UserCreate is a registration request.
type UserCreate struct {
	User     domain.User
	Password string
}

// Credentials are a login request.
type Credentials struct {
	Email    string
	Password string
}

// Auther authenticates callers and issues and validates session cookies.
type Auther interface {
	// Register persists the given users, hashing their passwords.
	// Partial-failure semantics: a per-item error list aligned with the
	// input, successes are persisted regardless of other items.
	Register(ctx context.Context, creates []UserCreate) ([]domain.User, []error)

	// Login verifies credentials and returns the user and a session
	// cookie. Bad credentials return a *domain.UnauthorizedError.
	Login(ctx context.Context, creds Credentials) (*domain.User, string, error)

	// ExtractUser resolves a session cookie to its user. An empty
	// cookie fails with ErrNoCookie, an undecodable one with
	// ErrInvalidCookie.
	ExtractUser(ctx context.Context, cookie string) (*domain.User, error)

	// Authorize reports whether user may perform action. A false or
	// error result must be treated as a denial with no side effects.
	Authorize(ctx context.Context, user *domain.User, action Action) (bool, error)
}
