package users_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/rbac"
	"github.com/jrsteele09/go-grant-auth/users"
	"github.com/jrsteele09/go-grant-auth/users/repofake"
)

func TestValidatePasswordStrength(t *testing.T) {
	require.NoError(t, users.ValidatePasswordStrength("Grant2025x"))
	for _, weak := range []string{"Sh0rt", "alllowercase1", "ALLUPPERCASE1", "NoNumbersHere", "Aa1" + strings.Repeat("x", 70)} {
		err := users.ValidatePasswordStrength(weak)
		require.Error(t, err, weak)
		var verr *apperrors.ValidationError
		require.ErrorAs(t, err, &verr)
		require.Equal(t, "password", verr.Field)
	}
}

func TestUser_CheckPassword(t *testing.T) {
	hash, err := users.HashPassword("Grant2025x")
	require.NoError(t, err)

	u := &users.User{PasswordHash: hash}
	require.True(t, u.CheckPassword("Grant2025x"))
	require.False(t, u.CheckPassword("grant2025x"))

	nostrOnly := &users.User{}
	require.False(t, nostrOnly.CheckPassword(""))
}

func TestUser_Actor(t *testing.T) {
	u := &users.User{
		ID:          "u1",
		Email:       "coord@grants.example",
		Role:        rbac.RoleCoordinator,
		Permissions: []rbac.Permission{rbac.PermResultsExport},
	}
	a := u.Actor("sess-1")
	require.Equal(t, "u1", a.ID)
	require.Equal(t, rbac.RoleCoordinator, a.Role)
	require.Equal(t, "sess-1", a.SessionID)

	a.Permissions[0] = rbac.PermRoleAssign
	require.Equal(t, rbac.PermResultsExport, u.Permissions[0])
}

func TestFakeUserRepo(t *testing.T) {
	ctx := context.Background()
	repo := repofake.NewFakeUserRepo()

	u := &users.User{Email: "Applicant@Grants.Example", Role: rbac.RoleApplicant}
	require.NoError(t, repo.Upsert(ctx, u))
	require.NotEmpty(t, u.ID)

	got, err := repo.GetByEmail(ctx, "applicant@grants.example")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	// returned users are copies
	got.Blocked = true
	again, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, again.Blocked)

	require.NoError(t, repo.SetBlocked(ctx, u.ID, true))
	require.NoError(t, repo.SetRole(ctx, u.ID, rbac.RoleAssessor))
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RecordLogin(ctx, u.ID, at))
	again, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, again.Blocked)
	require.Equal(t, rbac.RoleAssessor, again.Role)
	require.Equal(t, at, again.LastLogin)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrUserNotFound)
	require.ErrorIs(t, repo.SetRole(ctx, "missing", rbac.RoleApplicant), apperrors.ErrUserNotFound)

	require.NoError(t, repo.Delete(ctx, u.ID))
	_, err = repo.GetByEmail(ctx, u.Email)
	require.ErrorIs(t, err, apperrors.ErrUserNotFound)
}

func TestFakeUserRepo_List(t *testing.T) {
	ctx := context.Background()
	repo := repofake.NewFakeUserRepo()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, repo.Upsert(ctx, &users.User{ID: id, Email: id + "@grants.example"}))
	}

	page, err := repo.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Len(t, page.Users, 1)
	require.Equal(t, "b", page.Users[0].ID)

	page, err = repo.List(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, page.Users, 2)

	page, err = repo.List(ctx, 5, 10)
	require.NoError(t, err)
	require.Empty(t, page.Users)
}

func TestFakeIdentityRepo(t *testing.T) {
	ctx := context.Background()
	repo := repofake.NewFakeIdentityRepo()
	pk := "AB" + "cd0123456789abcdef0123456789abcdef0123456789abcdef0123456789ab"

	link := &users.IdentityLink{UserID: "u1", PubKey: pk, CreatedAt: time.Unix(100, 0)}
	require.NoError(t, repo.Link(ctx, link))
	require.NotEmpty(t, link.ID)

	got, err := repo.GetByPubkey(ctx, pk)
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserID)

	// relinking by the owner keeps the id
	relink := &users.IdentityLink{UserID: "u1", PubKey: pk, NIP05: "alice@grants.example"}
	require.NoError(t, repo.Link(ctx, relink))
	require.Equal(t, link.ID, relink.ID)
	require.Equal(t, link.CreatedAt, relink.CreatedAt)

	err = repo.Link(ctx, &users.IdentityLink{UserID: "u2", PubKey: pk})
	require.ErrorIs(t, err, apperrors.ErrIdentityAlreadyLinked)

	links, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, "alice@grants.example", links[0].NIP05)

	require.ErrorIs(t, repo.Unlink(ctx, "u2", pk), apperrors.ErrIdentityNotLinked)
	require.NoError(t, repo.Unlink(ctx, "u1", pk))
	_, err = repo.GetByPubkey(ctx, pk)
	require.ErrorIs(t, err, apperrors.ErrIdentityNotLinked)
}
