package auth

import (
	"net/mail"
	"strings"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/nostr"
	"github.com/jrsteele09/go-grant-auth/rbac"
	"github.com/jrsteele09/go-grant-auth/users"
)

// Validator holds the cheap input checks run before any store is touched.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAccessToken rejects anything that is not three non-empty
// dot-separated segments.
func (v *Validator) ValidateAccessToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperrors.ErrMissingToken
	}
	header, rest, _ := strings.Cut(token, ".")
	payload, sig, ok := strings.Cut(rest, ".")
	if !ok || header == "" || payload == "" || sig == "" || strings.Contains(sig, ".") {
		return apperrors.ErrInvalidFormat
	}
	return nil
}

func (v *Validator) ValidateUserCredentials(email, password string) error {
	if err := v.ValidateEmail(email); err != nil {
		return err
	}
	if password == "" {
		return apperrors.NewValidation("password", "required")
	}
	return nil
}

// ValidateEmail requires a bare address with a dotted domain.
func (v *Validator) ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperrors.NewValidation("email", "required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperrors.NewValidation("email", "invalid format")
	}
	if _, domain, _ := strings.Cut(email, "@"); !strings.Contains(domain, ".") {
		return apperrors.NewValidation("email", "invalid format")
	}
	return nil
}

// ValidateUserState rejects missing and blocked accounts.
func (v *Validator) ValidateUserState(user *users.User) error {
	if user == nil {
		return apperrors.ErrUserNotFound
	}
	if user.Blocked {
		return apperrors.ErrUserBlocked
	}
	return nil
}

// ValidateNewPassword checks a replacement password.
func (v *Validator) ValidateNewPassword(current, next string) error {
	if next == current {
		return apperrors.NewValidation("new_password", "must differ from the current password")
	}
	return users.ValidatePasswordStrength(next)
}

// ValidatePubkey returns the lowercase form of a 64 hex character key.
func (v *Validator) ValidatePubkey(pubkey string) (string, error) {
	normalized, ok := nostr.NormalizePubkey(pubkey)
	if !ok {
		return "", apperrors.ErrInvalidPubkey
	}
	return normalized, nil
}

func (v *Validator) ValidateRole(role rbac.Role) error {
	if !role.Valid() {
		return apperrors.NewValidation("role", "unknown role "+string(role))
	}
	return nil
}
