package repofake

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/users"
)

var _ users.IdentityRepo = (*FakeIdentityRepo)(nil)

type FakeIdentityRepo struct {
	links map[string]users.IdentityLink // pubkey to link
	lock  sync.RWMutex
}

func NewFakeIdentityRepo() *FakeIdentityRepo {
	return &FakeIdentityRepo{links: make(map[string]users.IdentityLink)}
}

func (r *FakeIdentityRepo) Link(_ context.Context, l *users.IdentityLink) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	key := strings.ToLower(l.PubKey)
	if existing, ok := r.links[key]; ok {
		if existing.UserID != l.UserID {
			return apperrors.ErrIdentityAlreadyLinked
		}
		l.ID = existing.ID
		l.CreatedAt = existing.CreatedAt
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	r.links[key] = *l
	return nil
}

func (r *FakeIdentityRepo) GetByPubkey(_ context.Context, pubkey string) (*users.IdentityLink, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	l, ok := r.links[strings.ToLower(pubkey)]
	if !ok {
		return nil, apperrors.ErrIdentityNotLinked
	}
	return &l, nil
}

func (r *FakeIdentityRepo) ListByUser(_ context.Context, userID string) ([]*users.IdentityLink, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	out := make([]*users.IdentityLink, 0)
	for _, l := range r.links {
		if l.UserID == userID {
			l := l
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *FakeIdentityRepo) Unlink(_ context.Context, userID, pubkey string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	key := strings.ToLower(pubkey)
	l, ok := r.links[key]
	if !ok || l.UserID != userID {
		return apperrors.ErrIdentityNotLinked
	}
	delete(r.links, key)
	return nil
}
