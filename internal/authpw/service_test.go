package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"huddle/api/internal/store"
)

type fakePrincipalStore struct {
	byEmail map[string]store.Principal
}

func newFakePrincipalStore() *fakePrincipalStore {
	return &fakePrincipalStore{byEmail: make(map[string]store.Principal)}
}

func (f *fakePrincipalStore) GetPrincipalByEmail(_ context.Context, email string) (store.Principal, error) {
	principal, ok := f.byEmail[email]
	if !ok {
		return store.Principal{}, sql.ErrNoRows
	}
	return principal, nil
}

func (f *fakePrincipalStore) InsertPrincipal(_ context.Context, principal store.Principal) error {
	f.byEmail[principal.Email] = principal
	return nil
}

func TestSignUpAndSignIn(t *testing.T) {
	svc := NewService(newFakePrincipalStore())
	ctx := context.Background()

	created, err := svc.SignUp(ctx, SignUpRequest{Email: "Avery@Example.com", Password: "hunter2hunter2", Name: "Avery"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if created.Email != "avery@example.com" {
		t.Fatalf("email not normalized: %q", created.Email)
	}
	if created.PasswordHash == "hunter2hunter2" {
		t.Fatal("password stored in plaintext")
	}

	signedIn, err := svc.SignIn(ctx, "avery@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if signedIn.ID != created.ID {
		t.Fatalf("SignIn() principal = %s, want %s", signedIn.ID, created.ID)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	svc := NewService(newFakePrincipalStore())
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "longenough", Name: "A"}); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	_, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "longenough", Name: "A2"})
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("SignUp() error = %v, want ErrEmailExists", err)
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	svc := NewService(newFakePrincipalStore())
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "longenough", Name: "A"}); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if _, err := svc.SignIn(ctx, "a@b.c", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn() error = %v, want ErrInvalidCredentials", err)
	}
}
