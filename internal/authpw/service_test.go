package authpw

import (
	"context"
	"database/sql"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"gridspace/api/internal/store"
)

type fakeUserStore struct {
	getUserByUsernameFn func(ctx context.Context, username string) (store.User, error)
	createUserFn        func(ctx context.Context, user store.User) error
}

func (f *fakeUserStore) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	if f.getUserByUsernameFn != nil {
		return f.getUserByUsernameFn(ctx, username)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}

func TestSignUpHashesPasswordAndIssuesKey(t *testing.T) {
	var created store.User
	fs := &fakeUserStore{
		createUserFn: func(_ context.Context, user store.User) error {
			created = user
			return nil
		},
	}
	svc := NewService(fs)

	user, err := svc.SignUp(context.Background(), SignUpRequest{Username: "ada", Password: "correct horse"})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if user.ID == "" || created.ID != user.ID {
		t.Fatalf("user not stored: %+v", user)
	}
	if created.PasswordHash == "correct horse" || created.PasswordHash == "" {
		t.Error("password must be stored hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("correct horse")); err != nil {
		t.Errorf("stored hash does not verify: %v", err)
	}
	if created.SecretAPIKey == "" {
		t.Error("sign-up should issue an API key")
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(&fakeUserStore{})
	if _, err := svc.SignUp(context.Background(), SignUpRequest{Username: "ada", Password: "short"}); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestSignUpPropagatesDuplicate(t *testing.T) {
	fs := &fakeUserStore{
		createUserFn: func(context.Context, store.User) error { return store.ErrDuplicate },
	}
	svc := NewService(fs)
	if _, err := svc.SignUp(context.Background(), SignUpRequest{Username: "ada", Password: "correct horse"}); err != store.ErrDuplicate {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestSignIn(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatal(err)
	}
	fs := &fakeUserStore{
		getUserByUsernameFn: func(_ context.Context, username string) (store.User, error) {
			if username != "ada" {
				return store.User{}, sql.ErrNoRows
			}
			return store.User{ID: "usr_1", Username: "ada", PasswordHash: string(hash)}, nil
		},
	}
	svc := NewService(fs)

	user, err := svc.SignIn(context.Background(), "ada", "correct horse")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if user.ID != "usr_1" {
		t.Errorf("user = %+v", user)
	}

	if _, err := svc.SignIn(context.Background(), "ada", "wrong"); err != ErrInvalidCredentials {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.SignIn(context.Background(), "nobody", "correct horse"); err != ErrInvalidCredentials {
		t.Errorf("unknown user err = %v, want ErrInvalidCredentials", err)
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyPassword(string(hash), "secret123") {
		t.Error("correct password should verify")
	}
	if VerifyPassword(string(hash), "secret124") {
		t.Error("wrong password must not verify")
	}
}
