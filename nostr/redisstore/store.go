// Package redisstore keeps pending login challenges in redis. DEL decides
// the single winner when two processes see the same response.
package redisstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/nostr"
)

const challengePrefix = "nostr_challenge:"

var _ nostr.ChallengeStore = (*Store)(nil)

type Store struct {
	client  redis.UniversalClient
	nowFunc func() time.Time
}

type Option func(*Store)

func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, nowFunc: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Put(ctx context.Context, c nostr.Challenge) error {
	ttl := c.ExpiresAt.Sub(s.nowFunc())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "[redisstore.Put] encode")
	}
	if err := s.client.Set(ctx, challengePrefix+c.Value, raw, ttl).Err(); err != nil {
		return errors.Wrap(err, "[redisstore.Put]")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, value string) (*nostr.Challenge, error) {
	raw, err := s.client.Get(ctx, challengePrefix+value).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, apperrors.ErrNotFound
		}
		return nil, errors.Wrap(err, "[redisstore.Get]")
	}
	var c nostr.Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, errors.Wrap(err, "[redisstore.Get] decode")
	}
	return &c, nil
}

func (s *Store) Delete(ctx context.Context, value string) (bool, error) {
	n, err := s.client.Del(ctx, challengePrefix+value).Result()
	if err != nil {
		return false, errors.Wrap(err, "[redisstore.Delete]")
	}
	return n == 1, nil
}

// Prune is a no-op: redis expires challenges on its own.
func (s *Store) Prune(context.Context, time.Time) (int, error) {
	return 0, nil
}
