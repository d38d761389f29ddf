// Package authpw provides username/password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"gridspace/api/internal/store"
	"gridspace/api/internal/util"
)

// ErrInvalidCredentials is returned for any username/password mismatch.
// The caller never learns which half was wrong.
var ErrInvalidCredentials = errors.New("invalid username or password")

// UserStore defines the storage interface for auth.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

// Service provides username/password authentication.
type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignUpRequest contains sign-up parameters.
type SignUpRequest struct {
	Username string
	Password string
}

// SignUp creates a new user account with a fresh API key.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	if req.Username == "" || req.Password == "" {
		return store.User{}, errors.New("username and password are required")
	}
	if len(req.Password) < 8 {
		return store.User{}, errors.New("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Username:     req.Username,
		PasswordHash: string(hash),
		SecretAPIKey: util.NewID("key"),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, err
	}
	return user, nil
}

// SignIn authenticates a user.
func (s *Service) SignIn(ctx context.Context, username, password string) (store.User, error) {
	if username == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// VerifyPassword checks a password against a stored hash. Destructive
// operations re-confirm the password this way.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
