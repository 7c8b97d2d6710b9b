package nostr

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
)

const DefaultChallengeTTL = 5 * time.Minute

// Challenge is a pending login challenge.
type Challenge struct {
	Value     string    `json:"challenge"`
	Relay     string    `json:"relay,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChallengeStore keeps pending challenges.
type ChallengeStore interface {
	Put(ctx context.Context, c Challenge) error
	// Get returns errors.ErrNotFound for unknown values.
	Get(ctx context.Context, value string) (*Challenge, error)
	// Delete reports whether the challenge existed. Only one caller may win.
	Delete(ctx context.Context, value string) (bool, error)
	Prune(ctx context.Context, now time.Time) (int, error)
}

var _ ChallengeStore = (*MemoryChallengeStore)(nil)

type MemoryChallengeStore struct {
	pending map[string]Challenge
	mu      sync.Mutex
}

func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{pending: make(map[string]Challenge)}
}

func (s *MemoryChallengeStore) Put(_ context.Context, c Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[c.Value] = c
	return nil
}

func (s *MemoryChallengeStore) Get(_ context.Context, value string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.pending[value]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &c, nil
}

func (s *MemoryChallengeStore) Delete(_ context.Context, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[value]
	delete(s.pending, value)
	return ok, nil
}

func (s *MemoryChallengeStore) Prune(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for v, c := range s.pending {
		if !now.Before(c.ExpiresAt) {
			delete(s.pending, v)
			removed++
		}
	}
	return removed, nil
}

// ChallengeService runs challenge-response login.
type ChallengeService struct {
	verifier *Verifier
	store    ChallengeStore
	ttl      time.Duration
	relay    string
	nowFunc  func() time.Time
}

type ChallengeOption func(*ChallengeService)

func WithChallengeTTL(d time.Duration) ChallengeOption {
	return func(s *ChallengeService) {
		s.ttl = d
	}
}

// WithRelay binds every issued challenge to relay.
func WithRelay(relay string) ChallengeOption {
	return func(s *ChallengeService) {
		s.relay = relay
	}
}

func WithChallengeNowFunc(now func() time.Time) ChallengeOption {
	return func(s *ChallengeService) {
		s.nowFunc = now
	}
}

func NewChallengeService(verifier *Verifier, store ChallengeStore, opts ...ChallengeOption) *ChallengeService {
	s := &ChallengeService{
		verifier: verifier,
		store:    store,
		ttl:      DefaultChallengeTTL,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a pending challenge.
func (s *ChallengeService) Issue(ctx context.Context) (*Challenge, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "[ChallengeService.Issue] random")
	}
	now := s.nowFunc()
	c := Challenge{
		Value:     hex.EncodeToString(b),
		Relay:     s.relay,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Put(ctx, c); err != nil {
		return nil, errors.Wrap(err, "[ChallengeService.Issue] store")
	}
	return &c, nil
}

// Verify checks a signed challenge response and consumes the challenge. It
// returns the lowercase public key that signed it.
func (s *ChallengeService) Verify(ctx context.Context, e *Event) (string, error) {
	if err := s.verifier.Verify(e); err != nil {
		return "", err
	}
	if e.Kind != KindClientAuth {
		return "", errors.Wrapf(apperrors.ErrInvalidEvent, "expected kind %d", KindClientAuth)
	}

	value, ok := e.Tags.Value("challenge")
	if !ok || value == "" {
		return "", apperrors.ErrChallengeNotFound
	}
	c, err := s.store.Get(ctx, value)
	if err != nil {
		if stderrors.Is(err, apperrors.ErrNotFound) {
			return "", apperrors.ErrChallengeNotFound
		}
		return "", errors.Wrap(err, "[ChallengeService.Verify] lookup")
	}
	if !s.nowFunc().Before(c.ExpiresAt) {
		_, _ = s.store.Delete(ctx, value)
		return "", apperrors.ErrChallengeNotFound
	}
	if c.Relay != "" {
		relay, _ := e.Tags.Value("relay")
		if normalizeRelay(relay) != normalizeRelay(c.Relay) {
			return "", apperrors.ErrRelayMismatch
		}
	}

	deleted, err := s.store.Delete(ctx, value)
	if err != nil {
		return "", errors.Wrap(err, "[ChallengeService.Verify] consume")
	}
	if !deleted {
		return "", apperrors.ErrChallengeNotFound
	}
	return strings.ToLower(e.PubKey), nil
}

// Prune drops expired challenges.
func (s *ChallengeService) Prune(ctx context.Context) (int, error) {
	return s.store.Prune(ctx, s.nowFunc())
}

func normalizeRelay(relay string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(relay)), "/")
}
