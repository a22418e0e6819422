package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kakeibo/internal/core"
	"kakeibo/internal/storage"
)

type fakeStore struct {
	users map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]string)}
}

func (f *fakeStore) FindUser(_ context.Context, username, password string) (core.User, error) {
	if pw, ok := f.users[username]; ok && pw == password {
		return core.User{Username: username, Password: pw}, nil
	}
	return core.User{}, storage.ErrNotFound
}

func (f *fakeStore) CreateUser(_ context.Context, username, password string) error {
	if _, ok := f.users[username]; ok {
		return storage.ErrUsernameTaken
	}
	f.users[username] = password
	return nil
}

func TestLogin(t *testing.T) {
	store := newFakeStore()
	store.users["alice"] = "secret"
	svc := NewService(store)
	ctx := context.Background()

	u, err := svc.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidLogin)

	_, err = svc.Login(ctx, "nobody", "secret")
	assert.ErrorIs(t, err, ErrInvalidLogin)

	_, err = svc.Login(ctx, "", "secret")
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = svc.Login(ctx, "alice", "")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestRegister(t *testing.T) {
	svc := NewService(newFakeStore())
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "secret"))

	err := svc.Register(ctx, "alice", "other")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	err = svc.Register(ctx, "  ", "pw")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestSessions(t *testing.T) {
	sessions := NewSessions(10, time.Minute)

	token := sessions.Start("alice")
	require.NotEmpty(t, token)

	who, ok := sessions.Identity(token)
	require.True(t, ok)
	assert.Equal(t, "alice", who)

	// Tokens are unique per login.
	token2 := sessions.Start("alice")
	assert.NotEqual(t, token, token2)

	sessions.End(token)
	_, ok = sessions.Identity(token)
	assert.False(t, ok)

	_, ok = sessions.Identity("")
	assert.False(t, ok)
}

func TestSessionExpiry(t *testing.T) {
	sessions := NewSessions(10, 10*time.Millisecond)
	token := sessions.Start("alice")

	time.Sleep(20 * time.Millisecond)
	_, ok := sessions.Identity(token)
	assert.False(t, ok)
	assert.Equal(t, 0, sessions.CleanExpired()) // already dropped by the read
}
