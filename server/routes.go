package server

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jrsteele09/go-grant-auth/rbac"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler("OPTIONS /", ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))

	// LOGIN
	s.RegisterRouteHandler("POST "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.ProtectedMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthMe, ChainMiddleware(s.MeHandler(), s.ProtectedMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthCSRF, ChainMiddleware(s.CSRFTokenHandler(), s.APIMiddleware(s.CSRFMiddleware())...))
	s.RegisterRouteHandler("POST "+RouteChangePassword, ChainMiddleware(s.ChangePasswordHandler(), s.ProtectedMiddleware()...))

	// NOSTR
	s.RegisterRouteHandler("GET "+RouteNostrChallenge, ChainMiddleware(s.NostrChallengeHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteNostrLogin, ChainMiddleware(s.NostrLoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteNostrLink, ChainMiddleware(s.ListIdentitiesHandler(), s.ProtectedMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteNostrLink, ChainMiddleware(s.LinkIdentityHandler(), s.ProtectedMiddleware()...))
	s.RegisterRouteHandler("DELETE "+RouteNostrUnlink, ChainMiddleware(s.UnlinkIdentityHandler(), s.ProtectedMiddleware()...))
	if s.httpAuth != nil {
		s.RegisterRouteHandler("GET "+RouteNostrWhoAmI, ChainMiddleware(s.NostrWhoAmIHandler(), s.APIMiddleware(s.RequireNostrAuth())...))
	}

	// DID
	s.RegisterRouteHandler("GET "+RouteDIDResolve, ChainMiddleware(s.ResolveDIDHandler(), s.APIMiddleware()...))

	// ADMIN
	s.RegisterRouteHandler("PUT "+RouteUserRole, ChainMiddleware(s.ChangeRoleHandler(), s.ProtectedMiddleware()...))

	// AUDIT
	s.RegisterRouteHandler("GET "+RouteAuditLogs, ChainMiddleware(s.AuditLogsHandler(), s.ProtectedMiddleware(s.RequirePermission(rbac.PermAuditRead))...))
	s.RegisterRouteHandler("GET "+RouteAuditSecurity, ChainMiddleware(s.AuditSecurityHandler(), s.ProtectedMiddleware(s.RequirePermission(rbac.PermAuditRead))...))
	s.RegisterRouteHandler("GET "+RouteAuditStats, ChainMiddleware(s.AuditStatsHandler(), s.ProtectedMiddleware(s.RequirePermission(rbac.PermAuditRead))...))
	s.RegisterRouteHandler("GET "+RouteAuditExport, ChainMiddleware(s.AuditExportHandler(), s.ProtectedMiddleware(s.RequirePermission(rbac.PermAuditRead))...))

	if s.gatherer != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}
