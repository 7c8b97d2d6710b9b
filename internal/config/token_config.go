package config

import "time"

type TokenConfig interface {
	GetAccessTokenSecret() string
	GetRefreshTokenSecret() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetTokenIssuer() string
	GetTokenAudience() string
	GetMaxRefreshRotations() int
}

type Token struct{}

var _ TokenConfig = Token{}

func (Token) GetAccessTokenSecret() string {
	return GetEnv("JWT_ACCESS_SECRET", "")
}

func (Token) GetRefreshTokenSecret() string {
	return GetEnv("JWT_REFRESH_SECRET", "")
}

func (Token) GetAccessTokenExpiry() time.Duration {
	return GetDuration("ACCESS_TOKEN_TTL", 15*time.Minute)
}

func (Token) GetRefreshTokenExpiry() time.Duration {
	return GetDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour)
}

func (Token) GetTokenIssuer() string {
	return GetEnv("JWT_ISSUER", "grant-platform")
}

func (Token) GetTokenAudience() string {
	return GetEnv("JWT_AUDIENCE", "grant-platform-api")
}

func (Token) GetMaxRefreshRotations() int {
	return GetInt("MAX_REFRESH_ROTATIONS", 5)
}
