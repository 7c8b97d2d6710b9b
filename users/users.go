package users

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/rbac"
)

const (
	MinPasswordLength = 8
	// MaxPasswordBytes is the bcrypt input limit.
	MaxPasswordBytes = 72
)

// User is a platform account. Password-less users sign in with a linked
// Nostr key only.
type User struct {
	ID           string `json:"id,omitempty"`
	Email        string `json:"email,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	Organisation string `json:"organisation,omitempty"` // applicant's organisation, empty for staff
	PasswordHash string `json:"-"`

	Role        rbac.Role         `json:"role"`
	Permissions []rbac.Permission `json:"permissions,omitempty"` // grants on top of the role

	CreatedAt time.Time `json:"created_at,omitempty"`
	LastLogin time.Time `json:"last_login,omitempty"`

	Verified               bool `json:"verified,omitempty"`
	Blocked                bool `json:"blocked,omitempty"`
	PasswordChangeRequired bool `json:"password_change_required,omitempty"`
}

// ListResponse is one page of users.
type ListResponse struct {
	Users  []*User `json:"users"`
	Total  int     `json:"total"`
	Offset int     `json:"offset"`
	Limit  int     `json:"limit"`
}

// ValidatePasswordStrength requires MinPasswordLength characters with upper
// case, lower case and a digit. All failures are reported in one
// *errors.ValidationError.
func ValidatePasswordStrength(password string) error {
	var problems []string
	if len([]rune(password)) < MinPasswordLength {
		problems = append(problems, "too short")
	}
	if len(password) > MaxPasswordBytes {
		problems = append(problems, "too long")
	}

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper {
		problems = append(problems, "needs an upper case letter")
	}
	if !lower {
		problems = append(problems, "needs a lower case letter")
	}
	if !digit {
		problems = append(problems, "needs a digit")
	}

	if len(problems) > 0 {
		return apperrors.NewValidation("password", strings.Join(problems, ", "))
	}
	return nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CheckPassword compares password with the stored hash. Users without a
// password (Nostr-only accounts) never match.
func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return CheckPasswordHash(password, u.PasswordHash)
}

// Actor builds the canonical authorization record for u.
func (u *User) Actor(sessionID string) rbac.Actor {
	return rbac.Actor{
		ID:          u.ID,
		Email:       u.Email,
		Role:        u.Role,
		Permissions: append([]rbac.Permission(nil), u.Permissions...),
		SessionID:   sessionID,

		PasswordChangeRequired: u.PasswordChangeRequired,
	}
}

// Clone returns a copy of u that shares no slices with it.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Permissions = append([]rbac.Permission(nil), u.Permissions...)
	return &c
}
