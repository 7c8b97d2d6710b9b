package config

import "time"

type DIDConfig interface {
	GetDIDCacheTTL() time.Duration
	GetNIP05Timeout() time.Duration
}

type DID struct{}

var _ DIDConfig = DID{}

func (DID) GetDIDCacheTTL() time.Duration {
	return GetDuration("DID_CACHE_TTL", 5*time.Minute)
}

func (DID) GetNIP05Timeout() time.Duration {
	return GetDuration("NIP05_TIMEOUT", 10*time.Second)
}
