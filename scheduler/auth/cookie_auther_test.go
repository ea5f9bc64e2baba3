package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blackcap/blackcap/scheduler/domain"
	"github.com/blackcap/blackcap/scheduler/store"
)

func makeAuther(ttl time.Duration) *CookieAuther {
	return MakeCookieAuther(store.MakeInMemoryStore(), []byte("test-secret"), ttl)
}

func register(t *testing.T, a *CookieAuther, email, password string) domain.User {
	t.Helper()
	users, errs := a.Register(context.Background(), []UserCreate{
		{User: domain.User{Email: email, Name: "Test User", Organisation: "testing"}, Password: password},
	})
	if errs[0] != nil {
		t.Fatalf("registering %s: %v", email, errs[0])
	}
	return users[0]
}

func TestRegisterLoginExtractRoundtrip(t *testing.T) {
	ctx := context.Background()
	a := makeAuther(time.Hour)
	registered := register(t, a, "ada@example.com", "hunter2")
	if registered.ID == "" {
		t.Error("expected registration to assign a user id")
	}

	user, cookie, err := a.Login(ctx, Credentials{Email: "ada@example.com", Password: "hunter2"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if user.Email != "ada@example.com" || cookie == "" {
		t.Fatalf("unexpected login result: user=%v cookie=%q", user, cookie)
	}

	extracted, err := a.ExtractUser(ctx, cookie)
	if err != nil {
		t.Fatalf("extracting user from cookie: %v", err)
	}
	if extracted.Email != "ada@example.com" || extracted.ID != registered.ID {
		t.Errorf("extracted the wrong user: %v", extracted)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	ctx := context.Background()
	a := makeAuther(time.Hour)
	register(t, a, "ada@example.com", "hunter2")

	if _, _, err := a.Login(ctx, Credentials{Email: "ada@example.com", Password: "wrong"}); !domain.IsUnauthorized(err) {
		t.Errorf("expected UnauthorizedError for a bad password, got %v", err)
	}

	// Unknown email must fail the same way, not leak registration state.
	if _, _, err := a.Login(ctx, Credentials{Email: "nobody@example.com", Password: "hunter2"}); !domain.IsUnauthorized(err) {
		t.Errorf("expected UnauthorizedError for an unknown email, got %v", err)
	}
}

func TestExtractUserDistinguishesMissingFromInvalid(t *testing.T) {
	ctx := context.Background()
	a := makeAuther(time.Hour)

	if _, err := a.ExtractUser(ctx, ""); !errors.Is(err, ErrNoCookie) {
		t.Errorf("expected ErrNoCookie for an empty cookie, got %v", err)
	}
	if _, err := a.ExtractUser(ctx, "not.a.jwt"); !errors.Is(err, ErrInvalidCookie) {
		t.Errorf("expected ErrInvalidCookie for garbage, got %v", err)
	}

	// A cookie signed with a different secret is invalid, not missing.
	other := MakeCookieAuther(a.users, []byte("other-secret"), time.Hour)
	register(t, other, "ada@example.com", "hunter2")
	_, cookie, err := other.Login(ctx, Credentials{Email: "ada@example.com", Password: "hunter2"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := a.ExtractUser(ctx, cookie); !errors.Is(err, ErrInvalidCookie) {
		t.Errorf("expected ErrInvalidCookie for a cookie signed elsewhere, got %v", err)
	}
}

func TestExtractUserRejectsExpiredCookie(t *testing.T) {
	ctx := context.Background()
	a := makeAuther(time.Hour)
	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	register(t, a, "ada@example.com", "hunter2")
	_, cookie, err := a.Login(ctx, Credentials{Email: "ada@example.com", Password: "hunter2"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	a.now = time.Now
	if _, err := a.ExtractUser(ctx, cookie); !errors.Is(err, ErrInvalidCookie) {
		t.Errorf("expected ErrInvalidCookie for an expired cookie, got %v", err)
	}
}

func TestRegisterIsolatesPerItemFailures(t *testing.T) {
	a := makeAuther(time.Hour)
	users, errs := a.Register(context.Background(), []UserCreate{
		{User: domain.User{Email: "one@example.com"}, Password: "pw"},
		{User: domain.User{}, Password: "pw"}, // no email
		{User: domain.User{Email: "three@example.com"}, Password: "pw"},
	})
	if errs[0] != nil || errs[2] != nil {
		t.Errorf("expected the valid creates to succeed, got %v / %v", errs[0], errs[2])
	}
	var verr *domain.ValidationError
	if !errors.As(errs[1], &verr) {
		t.Errorf("expected ValidationError for the email-less create, got %v", errs[1])
	}
	if users[0].ID == "" || users[2].ID == "" {
		t.Error("expected ids for the successfully registered users")
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	a := makeAuther(time.Hour)
	register(t, a, "ada@example.com", "hunter2")
	_, errs := a.Register(context.Background(), []UserCreate{
		{User: domain.User{Email: "ada@example.com"}, Password: "other"},
	})
	if !domain.IsConflict(errs[0]) {
		t.Errorf("expected ConflictError for a duplicate email, got %v", errs[0])
	}
}

func TestAuthorizeDeniesNilUser(t *testing.T) {
	ctx := context.Background()
	a := makeAuther(time.Hour)
	if ok, err := a.Authorize(ctx, nil, ActionCreateSchedule); ok || err != nil {
		t.Errorf("expected nil user to be denied, got ok=%t err=%v", ok, err)
	}
	if ok, err := a.Authorize(ctx, &domain.User{Email: "ada@example.com"}, ActionDeleteSchedule); !ok || err != nil {
		t.Errorf("expected authenticated user to be allowed, got ok=%t err=%v", ok, err)
	}
}
