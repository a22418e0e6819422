// Package auth implements credential checks and session tracking.
//
// Passwords are stored and compared as opaque plaintext strings. This
// preserves the store's existing login contract; see DESIGN.md before
// considering hashing.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"kakeibo/internal/core"
	"kakeibo/internal/storage"
)

var (
	// ErrInvalidLogin is returned when no stored pair matches exactly.
	ErrInvalidLogin = errors.New("invalid username or password")
	// ErrUsernameTaken is returned on duplicate registration.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrMissingCredentials is returned for blank input.
	ErrMissingCredentials = errors.New("username and password are required")
)

// CredentialStore is the storage contract the service needs.
type CredentialStore interface {
	FindUser(ctx context.Context, username, password string) (core.User, error)
	CreateUser(ctx context.Context, username, password string) error
}

type Service struct {
	store CredentialStore
}

func NewService(store CredentialStore) *Service {
	return &Service{store: store}
}

// Login succeeds iff exactly one stored pair matches username and
// password by exact equality.
func (s *Service) Login(ctx context.Context, username, password string) (core.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return core.User{}, ErrMissingCredentials
	}

	u, err := s.store.FindUser(ctx, username, password)
	if errors.Is(err, storage.ErrNotFound) {
		slog.InfoContext(ctx, "Login rejected", "username", username)
		return core.User{}, ErrInvalidLogin
	}
	if err != nil {
		return core.User{}, fmt.Errorf("login lookup: %w", err)
	}

	slog.InfoContext(ctx, "Login succeeded", "username", username)
	return u, nil
}

// Register creates a new user. A duplicate username is a conflict and
// mutates nothing; that uniqueness check lives in the storage layer.
func (s *Service) Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return ErrMissingCredentials
	}

	err := s.store.CreateUser(ctx, username, password)
	if errors.Is(err, storage.ErrUsernameTaken) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	return nil
}
