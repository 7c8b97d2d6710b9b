// Package redisstore keeps CSRF tokens in redis so every server process
// accepts tokens issued by any other.
package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/jrsteele09/go-grant-auth/csrf"
	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
)

const (
	tokenPrefix   = "csrf:"
	sessionPrefix = "csrf_session:"

	fieldSession = "session"
	fieldCreated = "created"
	fieldExpires = "expires"
)

var _ csrf.Store = (*Store)(nil)

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

// Save stores t until it expires. Tokens bound to a session are also indexed
// by session so logout can drop them together.
func (s *Store) Save(ctx context.Context, t csrf.Token) error {
	ttl := t.ExpiresAt.Sub(s.nowFunc())
	if ttl <= 0 {
		return nil
	}
	key := tokenPrefix + t.Value
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldSession, t.SessionID,
			fieldCreated, t.CreatedAt.UnixMilli(),
			fieldExpires, t.ExpiresAt.UnixMilli(),
		)
		pipe.PExpire(ctx, key, ttl)
		if t.SessionID != "" {
			sessionKey := sessionPrefix + t.SessionID
			pipe.SAdd(ctx, sessionKey, t.Value)
			pipe.PExpire(ctx, sessionKey, ttl)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "[redisstore.Save]")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, value string) (*csrf.Token, error) {
	values, err := s.client.HGetAll(ctx, tokenPrefix+value).Result()
	if err != nil {
		return nil, errors.Wrap(err, "[redisstore.Get]")
	}
	if len(values) == 0 {
		return nil, apperrors.ErrNotFound
	}

	t := &csrf.Token{Value: value, SessionID: values[fieldSession]}
	if ms, err := strconv.ParseInt(values[fieldCreated], 10, 64); err == nil {
		t.CreatedAt = time.UnixMilli(ms).UTC()
	}
	ms, err := strconv.ParseInt(values[fieldExpires], 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "[redisstore.Get] corrupt expiry for token")
	}
	t.ExpiresAt = time.UnixMilli(ms).UTC()
	return t, nil
}

func (s *Store) Delete(ctx context.Context, value string) error {
	if err := s.client.Del(ctx, tokenPrefix+value).Err(); err != nil {
		return errors.Wrap(err, "[redisstore.Delete]")
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	sessionKey := sessionPrefix + sessionID
	values, err := s.client.SMembers(ctx, sessionKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "[redisstore.DeleteSession] members")
	}
	keys := make([]string, 0, len(values))
	for _, v := range values {
		keys = append(keys, tokenPrefix+v)
	}

	var removed *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			removed = pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, sessionKey)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "[redisstore.DeleteSession]")
	}
	if removed == nil {
		return 0, nil
	}
	return int(removed.Val()), nil
}

// DeleteExpired is a no-op: redis expires tokens on its own.
func (s *Store) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
