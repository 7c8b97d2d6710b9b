package config

import "time"

type SecurityConfig interface {
	GetCSRFCookieName() string
	GetCSRFHeaderName() string
	GetCSRFFormField() string
	GetCSRFTokenLength() int
	GetCSRFMaxAge() time.Duration
	GetCookieSecure() bool
}

type Security struct{}

var _ SecurityConfig = Security{}

func (Security) GetCSRFCookieName() string {
	return GetEnv("CSRF_COOKIE_NAME", "csrf_token")
}

func (Security) GetCSRFHeaderName() string {
	return GetEnv("CSRF_HEADER_NAME", "X-CSRF-Token")
}

func (Security) GetCSRFFormField() string {
	return GetEnv("CSRF_FORM_FIELD", "csrf_token")
}

// GetCSRFTokenLength is the number of random bytes; the token is hex encoded.
func (Security) GetCSRFTokenLength() int {
	return GetInt("CSRF_TOKEN_LENGTH", 32)
}

func (Security) GetCSRFMaxAge() time.Duration {
	return GetDuration("CSRF_MAX_AGE", time.Hour)
}

func (Security) GetCookieSecure() bool {
	return GetBool("COOKIE_SECURE", true)
}
