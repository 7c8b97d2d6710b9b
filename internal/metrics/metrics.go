package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives security counters from the auth core.
type Recorder interface {
	TokenIssued(tokenType string)
	TokenVerified(tokenType, result string)
	TokenRevoked(reason string)
	FamilyRejected()
	PermissionDecision(permission string, granted bool)
	AuditRecorded(action string, success bool)
	CSRFValidation(result string)
	NostrVerification(result string)
	DIDResolution(result string, cached bool)
}

var _ Recorder = (*Metrics)(nil)

// Metrics is the prometheus backed Recorder.
type Metrics struct {
	tokensIssued        *prometheus.CounterVec
	tokenVerifications  *prometheus.CounterVec
	tokensRevoked       *prometheus.CounterVec
	familiesRejected    prometheus.Counter
	permissionDecisions *prometheus.CounterVec
	auditEntries        *prometheus.CounterVec
	csrfValidations     *prometheus.CounterVec
	nostrVerifications  *prometheus.CounterVec
	didResolutions      *prometheus.CounterVec
}

// New registers the collectors on reg. Passing a fresh registry keeps tests isolated.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantauth_tokens_issued_total",
			Help: "Tokens issued by type.",
		}, []string{"type"}),
		tokenVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantauth_token_verifications_total",
			Help: "Token verifications by type and result.",
		}, []string{"type", "result"}),
		tokensRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantauth_tokens_revoked_total",
			Help: "Token revocations by reason.",
		}, []string{"reason"}),
		familiesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grantauth_refresh_families_rejected_total",
			Help: "Refresh token families permanently rejected.",
		}),
		permissionDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantauth_permission_decisions_total",
			Help: "Permission decisions by permission and outcome.",
		}, []string{"permission", "granted"}),
		auditEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantauth_audit_entries_total",
			Help: "Audit entries recorded by action and success.",
		}, []string{"action", "success"}),
		csrfValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantauth_csrf_validations_total",
			Help: "CSRF validations by result.",
		}, []string{"result"}),
		nostrVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantauth_nostr_verifications_total",
			Help: "Nostr event verifications by result.",
		}, []string{"result"}),
		didResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantauth_did_resolutions_total",
			Help: "DID resolutions by result and cache hit.",
		}, []string{"result", "cached"}),
	}

	reg.MustRegister(
		m.tokensIssued,
		m.tokenVerifications,
		m.tokensRevoked,
		m.familiesRejected,
		m.permissionDecisions,
		m.auditEntries,
		m.csrfValidations,
		m.nostrVerifications,
		m.didResolutions,
	)
	return m
}

func (m *Metrics) TokenIssued(tokenType string) {
	m.tokensIssued.WithLabelValues(tokenType).Inc()
}

func (m *Metrics) TokenVerified(tokenType, result string) {
	m.tokenVerifications.WithLabelValues(tokenType, result).Inc()
}

func (m *Metrics) TokenRevoked(reason string) {
	m.tokensRevoked.WithLabelValues(reason).Inc()
}

func (m *Metrics) FamilyRejected() {
	m.familiesRejected.Inc()
}

func (m *Metrics) PermissionDecision(permission string, granted bool) {
	m.permissionDecisions.WithLabelValues(permission, boolLabel(granted)).Inc()
}

func (m *Metrics) AuditRecorded(action string, success bool) {
	m.auditEntries.WithLabelValues(action, boolLabel(success)).Inc()
}

func (m *Metrics) CSRFValidation(result string) {
	m.csrfValidations.WithLabelValues(result).Inc()
}

func (m *Metrics) NostrVerification(result string) {
	m.nostrVerifications.WithLabelValues(result).Inc()
}

func (m *Metrics) DIDResolution(result string, cached bool) {
	m.didResolutions.WithLabelValues(result, boolLabel(cached)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
