package config

type Config interface {
	EnvConfig
	TokenConfig
	SecurityConfig
	NostrConfig
	DIDConfig
	AuditConfig
	CorsConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetBaseURL() string
	GetRedisAddr() string
	GetSystemAdminUser() string
	GetSystemAdminPassword() string
	IsProduction() bool
}

type mainConfig struct {
	EnvVars
	Token
	Security
	Nostr
	DID
	Audit
	Cors
}

// New returns the environment backed configuration. Values are read on each
// call so tests can override them with t.Setenv.
func New() Config {
	return mainConfig{}
}
