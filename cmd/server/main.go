package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-grant-auth/audit"
	auditfake "github.com/jrsteele09/go-grant-auth/audit/repofake"
	"github.com/jrsteele09/go-grant-auth/auth"
	"github.com/jrsteele09/go-grant-auth/csrf"
	csrfredis "github.com/jrsteele09/go-grant-auth/csrf/redisstore"
	"github.com/jrsteele09/go-grant-auth/did"
	"github.com/jrsteele09/go-grant-auth/internal/config"
	"github.com/jrsteele09/go-grant-auth/internal/metrics"
	"github.com/jrsteele09/go-grant-auth/nostr"
	nostrredis "github.com/jrsteele09/go-grant-auth/nostr/redisstore"
	"github.com/jrsteele09/go-grant-auth/rbac"
	"github.com/jrsteele09/go-grant-auth/server"
	"github.com/jrsteele09/go-grant-auth/token"
	tokenredis "github.com/jrsteele09/go-grant-auth/token/redisstore"
	"github.com/jrsteele09/go-grant-auth/users/repofake"
)

const (
	janitorInterval    = time.Minute
	maxFailedLogins    = 5
	failedLoginsWindow = 15 * time.Minute
)

// janitor is one periodic cleanup task.
type janitor struct {
	name string
	run  func(ctx context.Context) (int, error)
}

func main() {
	config.LoadDotEnv()
	for {
		if err := run(); err != nil {
			log.Error().Err(err).Msg("Error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	logger := newLogger(c)
	displayAppname(c.GetAppName())

	handler, janitors, err := build(c, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runJanitors(ctx, logger, janitors)

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(logger, httpServer) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

// build wires the auth core and returns the HTTP handler plus the cleanup tasks.
func build(c config.Config, logger zerolog.Logger) (http.Handler, []janitor, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	accessSecret, refreshSecret, err := tokenSecrets(c, logger)
	if err != nil {
		return nil, nil, err
	}
	tokenOpts := []token.ManagerOption{
		token.WithTokenExpiry(c.GetAccessTokenExpiry(), c.GetRefreshTokenExpiry()),
		token.WithIssuer(c.GetTokenIssuer()),
		token.WithAudience(c.GetTokenAudience()),
		token.WithMaxRotations(c.GetMaxRefreshRotations()),
		token.WithLogger(logger.With().Str("component", "token").Logger()),
		token.WithMetrics(rec),
	}
	var (
		csrfStore      csrf.Store           = csrf.NewMemoryStore()
		challengeStore nostr.ChallengeStore = nostr.NewMemoryChallengeStore()
	)
	if addr := c.GetRedisAddr(); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, fmt.Errorf("[build] redis ping %s: %w", addr, err)
		}
		tokenOpts = append(tokenOpts, token.WithStore(tokenredis.New(client, tokenredis.WithFamilyTTL(c.GetRefreshTokenExpiry()))))
		csrfStore = csrfredis.New(client)
		challengeStore = nostrredis.New(client)
		logger.Info().Str("addr", addr).Msg("token, csrf and challenge state stored in redis")
	}
	tokens, err := token.NewFromSecrets(accessSecret, refreshSecret, tokenOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("[build] token manager: %w", err)
	}

	engine := rbac.NewEngine(rbac.WithLogger(logger.With().Str("component", "rbac").Logger()), rbac.WithMetrics(rec))
	ledger := audit.NewLedger(auditfake.NewFakeAuditRepo(),
		audit.WithRetention(c.GetAuditRetention()),
		audit.WithLogger(logger.With().Str("component", "audit").Logger()),
		audit.WithMetrics(rec),
	)
	guard := csrf.NewGuard(csrfStore,
		csrf.WithCookieName(c.GetCSRFCookieName()),
		csrf.WithHeaderName(c.GetCSRFHeaderName()),
		csrf.WithFormField(c.GetCSRFFormField()),
		csrf.WithTokenLength(c.GetCSRFTokenLength()),
		csrf.WithMaxAge(c.GetCSRFMaxAge()),
		csrf.WithSecureCookie(c.GetCookieSecure()),
		csrf.WithLogger(logger.With().Str("component", "csrf").Logger()),
		csrf.WithMetrics(rec),
	)

	verifier := nostr.NewVerifier(nostr.SchnorrVerifier{},
		nostr.WithMaxAge(c.GetNostrEventWindow()),
		nostr.WithLogger(logger.With().Str("component", "nostr").Logger()),
		nostr.WithMetrics(rec),
	)
	challenges := nostr.NewChallengeService(verifier, challengeStore,
		nostr.WithChallengeTTL(c.GetNostrChallengeTTL()),
		nostr.WithRelay(c.GetNostrRelayURL()),
	)
	nip05 := did.NewNIP05Verifier(
		did.WithTimeout(c.GetNIP05Timeout()),
		did.WithNIP05CacheTTL(c.GetDIDCacheTTL()),
		did.WithNIP05Logger(logger.With().Str("component", "nip05").Logger()),
	)

	userRepo := repofake.NewFakeUserRepo()
	service, err := auth.NewService(
		auth.Repos{Users: userRepo, Identities: repofake.NewFakeIdentityRepo()},
		tokens, engine, ledger,
		auth.WithLogger(logger.With().Str("component", "auth").Logger()),
		auth.WithChallenges(challenges),
		auth.WithCSRFGuard(guard),
		auth.WithNIP05Verifier(nip05),
		auth.WithLoginThrottle(maxFailedLogins, failedLoginsWindow),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("[build] auth service: %w", err)
	}

	resolver := did.NewResolver(
		did.WithCacheTTL(c.GetDIDCacheTTL()),
		did.WithNIP05Verifier(nip05),
		did.WithProfileLookup(service.DIDProfile),
		did.WithLogger(logger.With().Str("component", "did").Logger()),
		did.WithMetrics(rec),
	)

	password, err := server.InitialiseSystem(context.Background(), c, userRepo, logger)
	if err != nil {
		return nil, nil, err
	}
	if password != "" {
		logger.Warn().Str("password", password).Msg("generated system admin password, change it on first login")
	}

	srv, err := server.New(c, server.Deps{
		Auth:     service,
		Engine:   engine,
		Ledger:   ledger,
		CSRF:     guard,
		Resolver: resolver,
		HTTPAuth: nostr.NewHTTPAuth(verifier),
		Gatherer: reg,
		Log:      logger.With().Str("component", "http").Logger(),
	})
	if err != nil {
		return nil, nil, err
	}

	janitors := []janitor{
		{"revoked_tokens", tokens.PruneRevoked},
		{"csrf_tokens", guard.Sweep},
		{"nostr_challenges", challenges.Prune},
		{"audit_retention", ledger.Purge},
		{"did_cache", func(context.Context) (int, error) { return resolver.Prune(), nil }},
	}
	return srv, janitors, nil
}

// tokenSecrets reads the signing secrets. Outside production missing secrets
// are replaced with random ones, which invalidates tokens on restart.
func tokenSecrets(c config.Config, logger zerolog.Logger) (string, string, error) {
	access, refresh := c.GetAccessTokenSecret(), c.GetRefreshTokenSecret()
	if access != "" && refresh != "" {
		return access, refresh, nil
	}
	if c.IsProduction() {
		return "", "", errors.New("[tokenSecrets] JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required in production")
	}
	var err error
	if access == "" {
		if access, err = randomSecret(); err != nil {
			return "", "", err
		}
	}
	if refresh == "" {
		if refresh, err = randomSecret(); err != nil {
			return "", "", err
		}
	}
	logger.Warn().Msg("token secrets not configured, using random secrets for this process")
	return access, refresh, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("[randomSecret] %w", err)
	}
	return hex.EncodeToString(b), nil
}

func runJanitors(ctx context.Context, logger zerolog.Logger, janitors []janitor) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, j := range janitors {
				n, err := j.run(ctx)
				if err != nil {
					logger.Error().Err(err).Str("task", j.name).Msg("cleanup failed")
					continue
				}
				if n > 0 {
					logger.Debug().Int("removed", n).Str("task", j.name).Msg("cleanup")
				}
			}
		}
	}
}

func newLogger(c config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if c.IsProduction() {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	}
	logger = logger.With().Timestamp().Str("app", c.GetAppName()).Logger()
	log.Logger = logger
	return logger
}

func listenAndServe(logger zerolog.Logger, server *http.Server) error {
	logger.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
