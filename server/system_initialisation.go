package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-grant-auth/auth"
	"github.com/jrsteele09/go-grant-auth/internal/config"
	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/rbac"
	"github.com/jrsteele09/go-grant-auth/users"
)

// InitialiseSystem makes sure a scheme owner exists to administer roles. It
// returns the generated password on first creation (empty string if the
// admin already exists or the password came from config).
func InitialiseSystem(ctx context.Context, config config.Config, repo users.UserRepo, log zerolog.Logger) (string, error) {
	adminEmail := generateEmailFromBaseURL(config.GetSystemAdminUser(), config.GetBaseURL())
	if err := auth.NewValidator().ValidateEmail(adminEmail); err != nil {
		return "", fmt.Errorf("[server InitialiseSystem] admin address %q: %w", adminEmail, err)
	}

	existing, err := repo.GetByEmail(ctx, adminEmail)
	if err == nil && existing != nil {
		log.Debug().Str("email", adminEmail).Msg("system admin already exists")
		return "", nil
	}
	if err != nil && !stderrors.Is(err, apperrors.ErrUserNotFound) {
		return "", fmt.Errorf("[server InitialiseSystem] lookup admin: %w", err)
	}

	password := config.GetSystemAdminPassword()
	generated := password == ""
	if generated {
		if password, err = generatePassword(); err != nil {
			return "", fmt.Errorf("[server InitialiseSystem] %w", err)
		}
	}

	passwordHash, err := users.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("[server InitialiseSystem] failed to hash password: %w", err)
	}
	admin := &users.User{
		ID:                     uuid.NewString(),
		Email:                  adminEmail,
		DisplayName:            "System Administrator",
		PasswordHash:           passwordHash,
		CreatedAt:              time.Now().UTC(),
		Role:                   rbac.RoleSchemeOwner,
		Verified:               true,
		PasswordChangeRequired: generated,
	}
	if err := repo.Upsert(ctx, admin); err != nil {
		return "", fmt.Errorf("[server InitialiseSystem] failed to create admin: %w", err)
	}

	log.Info().Str("email", adminEmail).Str("role", string(admin.Role)).Msg("system admin created")
	if !generated {
		return "", nil
	}
	return password, nil
}

// generatePassword draws random passwords until one passes the strength rules.
func generatePassword() (string, error) {
	passwordBytes := make([]byte, 18)
	for i := 0; i < 16; i++ {
		if _, err := rand.Read(passwordBytes); err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		candidate := base64.RawURLEncoding.EncodeToString(passwordBytes)
		if users.ValidatePasswordStrength(candidate) == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("failed to generate a strong password")
}

// localDomain stands in for hosts that cannot appear in an email address:
// single-label names such as localhost, and IP literals.
const localDomain = "localdomain"

// generateEmailFromBaseURL builds the admin address from the host of baseURL.
// Single-label hosts get the localDomain suffix and IP literals are replaced
// by "localhost.localdomain", so the result always has a dotted domain.
func generateEmailFromBaseURL(user, baseURL string) string {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	host := ""
	if u, err := url.Parse(baseURL); err == nil {
		host = u.Hostname()
	}
	host = strings.ToLower(strings.Trim(host, "./"))

	switch {
	case host == "" || net.ParseIP(host) != nil:
		host = "localhost." + localDomain
	case !strings.Contains(host, "."):
		host = host + "." + localDomain
	}
	return fmt.Sprintf("%s@%s", user, host)
}
