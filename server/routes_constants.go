package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes - Login & Logout
	RouteAuthLogin   = "/auth/login"
	RouteAuthRefresh = "/auth/refresh"
	RouteAuthLogout  = "/auth/logout"
	RouteAuthMe      = "/auth/me"
	RouteAuthCSRF    = "/auth/csrf"

	// Auth Routes - Password Management
	RouteChangePassword = "/auth/password"

	// Nostr Routes
	RouteNostrChallenge = "/auth/nostr/challenge"
	RouteNostrLogin     = "/auth/nostr/login"
	RouteNostrLink      = "/auth/nostr/identities"
	RouteNostrUnlink    = "/auth/nostr/identities/{pubkey}"
	RouteNostrWhoAmI    = "/auth/nostr/whoami"

	// DID Routes
	RouteDIDResolve = "/did/{did}"

	// Admin Routes
	RouteUserRole = "/admin/users/{id}/role"

	// Audit Routes
	RouteAuditLogs     = "/audit/logs"
	RouteAuditSecurity = "/audit/security"
	RouteAuditStats    = "/audit/stats"
	RouteAuditExport   = "/audit/export"

	// Operational Routes
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
