package config

import "time"

type NostrConfig interface {
	GetNostrEventWindow() time.Duration
	GetNostrChallengeTTL() time.Duration
	GetNostrRelayURL() string
}

type Nostr struct{}

var _ NostrConfig = Nostr{}

// GetNostrEventWindow is how far in the past an event's created_at may be.
func (Nostr) GetNostrEventWindow() time.Duration {
	return GetDuration("NOSTR_EVENT_WINDOW", 60*time.Second)
}

func (Nostr) GetNostrChallengeTTL() time.Duration {
	return GetDuration("NOSTR_CHALLENGE_TTL", 5*time.Minute)
}

// GetNostrRelayURL is the relay hint sent with login challenges; empty disables the relay check.
func (Nostr) GetNostrRelayURL() string {
	return GetEnv("NOSTR_RELAY_URL", "")
}
