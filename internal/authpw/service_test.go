package authpw

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"bookshelf/api/internal/store"
)

type mockUserStore struct {
	users map[string]store.User
	err   error
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]store.User)}
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if m.err != nil {
		return store.User{}, m.err
	}
	user, ok := m.users[strings.ToLower(email)]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *mockUserStore) EnsureUser(_ context.Context, user store.User) (store.User, error) {
	key := strings.ToLower(user.Email)
	if existing, ok := m.users[key]; ok {
		return existing, nil
	}
	user.ID = "user-" + key
	m.users[key] = user
	return user, nil
}

func TestSignIn(t *testing.T) {
	users := newMockUserStore()
	svc := NewServiceWithCost(users, bcrypt.MinCost)

	admin, err := svc.EnsureAdmin(context.Background(), "admin@admin.com", "password")
	if err != nil {
		t.Fatalf("EnsureAdmin() error = %v", err)
	}
	if admin.Role != "admin" {
		t.Fatalf("admin role = %q", admin.Role)
	}

	user, err := svc.SignIn(context.Background(), " admin@admin.com ", "password")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if user.ID != admin.ID {
		t.Fatalf("SignIn() user = %q, want %q", user.ID, admin.ID)
	}

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{name: "wrong password", email: "admin@admin.com", password: "nope-nope", want: ErrInvalidCredentials},
		{name: "unknown email", email: "ghost@admin.com", password: "password", want: ErrInvalidCredentials},
		{name: "missing password", email: "admin@admin.com", password: "", want: ErrMissingCredentials},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.SignIn(context.Background(), tc.email, tc.password); !errors.Is(err, tc.want) {
				t.Fatalf("SignIn() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSignInWrapsStoreFailures(t *testing.T) {
	users := newMockUserStore()
	users.err = errors.New("connection reset")
	svc := NewServiceWithCost(users, bcrypt.MinCost)

	_, err := svc.SignIn(context.Background(), "admin@admin.com", "password")
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn() error = %v, want wrapped store error", err)
	}
}

func TestEnsureAdminKeepsExistingUser(t *testing.T) {
	users := newMockUserStore()
	svc := NewServiceWithCost(users, bcrypt.MinCost)

	first, err := svc.EnsureAdmin(context.Background(), "admin@admin.com", "password")
	if err != nil {
		t.Fatalf("EnsureAdmin() error = %v", err)
	}
	second, err := svc.EnsureAdmin(context.Background(), "admin@admin.com", "another-password")
	if err != nil {
		t.Fatalf("EnsureAdmin() second error = %v", err)
	}
	if first.PasswordHash != second.PasswordHash {
		t.Fatal("EnsureAdmin() must not replace an existing password")
	}
}

func TestHashPasswordRejectsShortPasswords(t *testing.T) {
	svc := NewServiceWithCost(newMockUserStore(), bcrypt.MinCost)
	if _, err := svc.HashPassword("short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("HashPassword() error = %v, want ErrWeakPassword", err)
	}
}
