package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sessions issues and checks opaque bearer tokens. Tokens live in memory
// only; a restart logs everyone out, which is fine for a shared-password
// single-tenant tool.
type Sessions struct {
	mu     sync.Mutex
	ttl    time.Duration
	tokens map[string]time.Time
	now    func() time.Time
}

func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{
		ttl:    ttl,
		tokens: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Issue creates a fresh token.
func (s *Sessions) Issue() string {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = s.now().Add(s.ttl)
	s.mu.Unlock()
	return token
}

// Valid reports whether the token exists and has not expired. Expired
// tokens are dropped on sight.
func (s *Sessions) Valid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.tokens[token]
	if !ok {
		return false
	}
	if s.now().After(exp) {
		delete(s.tokens, token)
		return false
	}
	return true
}

// Revoke drops a token (logout).
func (s *Sessions) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}
