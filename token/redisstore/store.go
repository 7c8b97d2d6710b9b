// Package redisstore keeps revocation and refresh family state in redis so
// that several server processes share one view of it.
package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/token"
)

const (
	revokedPrefix = "revoked:"
	familyPrefix  = "family:"

	fieldCount    = "count"
	fieldLastUsed = "last_used"
)

var _ token.Store = (*Store)(nil)

// rejectFamilyScript raises the rotation count to ARGV[1] without lowering it.
var rejectFamilyScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local floor = tonumber(ARGV[1])
if current < floor then
  redis.call('HSET', KEYS[1], 'count', floor)
end
redis.call('HSET', KEYS[1], 'last_used', ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

type Store struct {
	client    redis.UniversalClient
	familyTTL time.Duration
	nowFunc   func() time.Time
}

type Option func(*Store)

// WithFamilyTTL expires idle family records. It should be at least the
// refresh token lifetime.
func WithFamilyTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.familyTTL = ttl
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:  client,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.nowFunc())
	if ttl <= 0 {
		// already expired; nothing can present it any more
		return nil
	}
	key := revokedPrefix + jti

	current, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return errors.Wrap(err, "[redisstore.Revoke] pttl")
	}
	if current > ttl {
		return nil
	}
	if err := s.client.Set(ctx, key, expiresAt.Unix(), ttl).Err(); err != nil {
		return errors.Wrap(err, "[redisstore.Revoke] set")
	}
	return nil
}

func (s *Store) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		return false, errors.Wrap(err, "[redisstore.IsRevoked]")
	}
	return n > 0, nil
}

// Prune is a no-op: redis expires revocations on its own.
func (s *Store) Prune(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *Store) IncrementFamily(ctx context.Context, familyID string, now time.Time) (int, error) {
	key := familyPrefix + familyID

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, fieldCount, 1)
		pipe.HSet(ctx, key, fieldLastUsed, now.UnixMilli())
		if s.familyTTL > 0 {
			pipe.PExpire(ctx, key, s.familyTTL)
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "[redisstore.IncrementFamily]")
	}
	return int(incr.Val()), nil
}

func (s *Store) GetFamily(ctx context.Context, familyID string) (*token.Family, error) {
	values, err := s.client.HGetAll(ctx, familyPrefix+familyID).Result()
	if err != nil {
		return nil, errors.Wrap(err, "[redisstore.GetFamily]")
	}
	if len(values) == 0 {
		return nil, apperrors.ErrNotFound
	}

	count, err := strconv.Atoi(values[fieldCount])
	if err != nil {
		return nil, errors.Wrapf(err, "[redisstore.GetFamily] corrupt count for family %s", familyID)
	}
	family := &token.Family{ID: familyID, RotationCount: count}
	if ms, err := strconv.ParseInt(values[fieldLastUsed], 10, 64); err == nil {
		family.LastUsed = time.UnixMilli(ms).UTC()
	}
	return family, nil
}

func (s *Store) RejectFamily(ctx context.Context, familyID string, floor int, now time.Time) error {
	keys := []string{familyPrefix + familyID}
	err := rejectFamilyScript.Run(ctx, s.client, keys, floor, now.UnixMilli(), s.familyTTL.Milliseconds()).Err()
	if err != nil {
		return errors.Wrap(err, "[redisstore.RejectFamily]")
	}
	return nil
}
