package csrf

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
)

// Token is an issued CSRF token.
type Token struct {
	Value     string    `json:"token"`
	SessionID string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token is no longer usable at now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Store keeps live tokens.
type Store interface {
	Save(ctx context.Context, t Token) error
	// Get returns errors.ErrNotFound for unknown values.
	Get(ctx context.Context, value string) (*Token, error)
	Delete(ctx context.Context, value string) error
	DeleteSession(ctx context.Context, sessionID string) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	tokens map[string]Token
	mu     sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]Token)}
}

func (s *MemoryStore) Save(_ context.Context, t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.Value] = t
	return nil
}

func (s *MemoryStore) Get(_ context.Context, value string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[value]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStore) Delete(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, value)
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for value, t := range s.tokens {
		if t.SessionID == sessionID {
			delete(s.tokens, value)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for value, t := range s.tokens {
		if t.Expired(now) {
			delete(s.tokens, value)
			removed++
		}
	}
	return removed, nil
}
