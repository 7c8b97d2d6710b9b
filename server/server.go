package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-grant-auth/audit"
	"github.com/jrsteele09/go-grant-auth/auth"
	"github.com/jrsteele09/go-grant-auth/csrf"
	"github.com/jrsteele09/go-grant-auth/did"
	"github.com/jrsteele09/go-grant-auth/internal/config"
	"github.com/jrsteele09/go-grant-auth/nostr"
	"github.com/jrsteele09/go-grant-auth/rbac"
)

// Deps are the services the HTTP layer fronts.
type Deps struct {
	Auth     *auth.Service
	Engine   *rbac.Engine
	Ledger   *audit.Ledger
	CSRF     *csrf.Guard
	Resolver *did.Resolver
	HTTPAuth *nostr.HTTPAuth     // Optional; enables NIP-98 signed requests
	Gatherer prometheus.Gatherer // Optional; enables GET /metrics
	Log      zerolog.Logger
}

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	log      zerolog.Logger
	auth     *auth.Service
	engine   *rbac.Engine
	ledger   *audit.Ledger
	csrf     *csrf.Guard
	resolver *did.Resolver
	httpAuth *nostr.HTTPAuth
	gatherer prometheus.Gatherer
}

func New(config config.Config, deps Deps) (*Server, error) {
	switch {
	case deps.Auth == nil:
		return nil, errors.New("[Server New] auth service is required")
	case deps.Engine == nil:
		return nil, errors.New("[Server New] permission engine is required")
	case deps.Ledger == nil:
		return nil, errors.New("[Server New] audit ledger is required")
	case deps.CSRF == nil:
		return nil, errors.New("[Server New] csrf guard is required")
	case deps.Resolver == nil:
		return nil, errors.New("[Server New] did resolver is required")
	}

	s := &Server{
		env:      config.GetEnv(),
		mux:      http.NewServeMux(),
		config:   config,
		log:      deps.Log,
		auth:     deps.Auth,
		engine:   deps.Engine,
		ledger:   deps.Ledger,
		csrf:     deps.CSRF,
		resolver: deps.Resolver,
		httpAuth: deps.HTTPAuth,
		gatherer: deps.Gatherer,
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// Routes lists the registered patterns in registration order.
func (s *Server) Routes() []string {
	out := make([]string, len(s.routes))
	copy(out, s.routes)
	return out
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	s.log.Info().Msg(fmt.Sprintf("[%-19s] %s", colouredMethod(method), path))
}

// getScheme determines the scheme (http/https) the client used.
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

// requestURL rebuilds the absolute URL the client signed.
func requestURL(r *http.Request) string {
	return getScheme(r) + "://" + r.Host + r.URL.RequestURI()
}
