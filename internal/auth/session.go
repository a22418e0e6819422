package auth

import (
	"time"

	"github.com/google/uuid"

	"kakeibo/internal/cache"
)

// Sessions maps opaque tokens to logged-in usernames. Tokens expire after
// the configured TTL; expired sessions simply force a new login.
type Sessions struct {
	tokens *cache.LRUCache[string]
}

// NewSessions creates a session store holding at most maxSessions live
// tokens for ttl each.
func NewSessions(maxSessions int, ttl time.Duration) *Sessions {
	return &Sessions{tokens: cache.NewLRUCache[string](maxSessions, ttl)}
}

// Start issues a fresh token bound to username.
func (s *Sessions) Start(username string) string {
	token := uuid.NewString()
	s.tokens.Set(token, username)
	return token
}

// Identity resolves a token to the logged-in username.
func (s *Sessions) Identity(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	return s.tokens.Get(token)
}

// End invalidates a token (logout).
func (s *Sessions) End(token string) {
	s.tokens.Delete(token)
}

// CleanExpired drops expired tokens and reports how many were removed.
func (s *Sessions) CleanExpired() int {
	return s.tokens.CleanExpired()
}
