package errors

import (
	"errors"
	"fmt"
)

// Common error types for the auth core
var (
	// Authentication errors
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrUserBlocked            = errors.New("user is blocked")
	ErrUserNotFound           = errors.New("user not found")
	ErrMissingToken           = errors.New("missing token")
	ErrTooManyAttempts        = errors.New("too many failed login attempts")
	ErrPasswordChangeRequired = errors.New("password change required")

	// Token errors
	ErrInvalidFormat    = errors.New("invalid token format")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrExpired          = errors.New("expired")
	ErrNotYetValid      = errors.New("not yet valid")
	ErrRevoked          = errors.New("token revoked")
	ErrInvalidIssuer    = errors.New("invalid issuer")
	ErrInvalidAudience  = errors.New("invalid audience")
	ErrFamilyExceeded   = errors.New("refresh token family exceeded")
	ErrSubjectMismatch  = errors.New("token subject mismatch")
	ErrWrongTokenType   = errors.New("wrong token type")

	// Identity errors
	ErrEventIDMismatch       = errors.New("event id mismatch")
	ErrInvalidEvent          = errors.New("invalid event")
	ErrChallengeNotFound     = errors.New("challenge not found")
	ErrRelayMismatch         = errors.New("relay mismatch")
	ErrNoSignatureBackend    = errors.New("no signature verification backend configured")
	ErrIdentityNotLinked     = errors.New("identity not linked")
	ErrIdentityAlreadyLinked = errors.New("identity already linked to another user")
	ErrInvalidDID            = errors.New("invalid did")
	ErrInvalidPubkey         = errors.New("invalid public key")
	ErrURLMismatch           = errors.New("request url mismatch")
	ErrMethodMismatch        = errors.New("request method mismatch")

	// CSRF errors
	ErrCSRFMissing = errors.New("csrf token missing")
	ErrCSRFInvalid = errors.New("csrf token invalid")

	// Authorization errors
	ErrForbidden = errors.New("forbidden")

	// General errors
	ErrNotFound = errors.New("not found")
)

// AuthenticationError reports missing or invalid credentials or tokens.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// AuthorizationError reports a valid identity lacking permission or ownership.
type AuthorizationError struct {
	Permission string
	Reason     string
}

func (e *AuthorizationError) Error() string {
	if e.Permission != "" {
		return fmt.Sprintf("forbidden: %s (%s)", e.Reason, e.Permission)
	}
	return "forbidden: " + e.Reason
}

func (e *AuthorizationError) Unwrap() error { return ErrForbidden }

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewAuthentication wraps err as an AuthenticationError.
func NewAuthentication(reason string, err error) error {
	return &AuthenticationError{Reason: reason, Err: err}
}

// NewValidation builds a ValidationError.
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsAuthentication reports whether err should surface as an authentication failure.
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return true
	}
	for _, target := range []error{
		ErrInvalidCredentials, ErrUserBlocked, ErrMissingToken, ErrInvalidFormat,
		ErrInvalidSignature, ErrExpired, ErrNotYetValid, ErrRevoked, ErrInvalidIssuer,
		ErrInvalidAudience, ErrFamilyExceeded, ErrSubjectMismatch, ErrWrongTokenType,
		ErrEventIDMismatch, ErrInvalidEvent, ErrChallengeNotFound, ErrRelayMismatch,
		ErrIdentityNotLinked, ErrURLMismatch, ErrMethodMismatch, ErrNoSignatureBackend,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
