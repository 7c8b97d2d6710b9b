package token

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
)

var _ Store = (*InMemoryStore)(nil)

// InMemoryStore is the default single process Store.
type InMemoryStore struct {
	revoked  map[string]time.Time
	families map[string]Family
	mu       sync.RWMutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		revoked:  make(map[string]time.Time),
		families: make(map[string]Family),
	}
}

func (s *InMemoryStore) Revoke(_ context.Context, jti string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.revoked[jti]; ok && existing.After(exp) {
		return nil
	}
	s.revoked[jti] = exp
	return nil
}

func (s *InMemoryStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.revoked[jti]
	return exists, nil
}

func (s *InMemoryStore) Prune(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for jti, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, jti)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryStore) IncrementFamily(_ context.Context, familyID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.families[familyID]
	f.ID = familyID
	f.RotationCount++
	f.LastUsed = now
	s.families[familyID] = f
	return f.RotationCount, nil
}

func (s *InMemoryStore) GetFamily(_ context.Context, familyID string) (*Family, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.families[familyID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &f, nil
}

func (s *InMemoryStore) RejectFamily(_ context.Context, familyID string, floor int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.families[familyID]
	f.ID = familyID
	if f.RotationCount < floor {
		f.RotationCount = floor
	}
	f.LastUsed = now
	s.families[familyID] = f
	return nil
}
