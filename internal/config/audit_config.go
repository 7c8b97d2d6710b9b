package config

import "time"

type AuditConfig interface {
	GetAuditRetention() time.Duration
}

type Audit struct{}

var _ AuditConfig = Audit{}

func (Audit) GetAuditRetention() time.Duration {
	return GetDuration("AUDIT_RETENTION", 365*24*time.Hour)
}
