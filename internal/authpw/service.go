// Package authpw provides email/password authentication.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"bookshelf/api/internal/rbac"
	"bookshelf/api/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrMissingCredentials = errors.New("email and password are required")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	EnsureUser(ctx context.Context, user store.User) (store.User, error)
}

type Service struct {
	store UserStore
	cost  int
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// NewServiceWithCost is used by tests to keep bcrypt cheap.
func NewServiceWithCost(store UserStore, cost int) *Service {
	return &Service{store: store, cost: cost}
}

func (s *Service) HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// SignIn authenticates a user. Unknown emails and wrong passwords both
// return ErrInvalidCredentials.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return store.User{}, ErrMissingCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("load user: %w", err)
	}
	if user.PasswordHash == "" {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// EnsureAdmin creates the bootstrap administrator unless the email exists.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (store.User, error) {
	hash, err := s.HashPassword(password)
	if err != nil {
		return store.User{}, err
	}
	return s.store.EnsureUser(ctx, store.User{
		DisplayName:  "Admin",
		Email:        email,
		PasswordHash: hash,
		Role:         string(rbac.RoleAdmin),
	})
}
