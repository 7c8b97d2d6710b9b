package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-grant-auth/audit"
	auditfake "github.com/jrsteele09/go-grant-auth/audit/repofake"
	"github.com/jrsteele09/go-grant-auth/auth"
	"github.com/jrsteele09/go-grant-auth/csrf"
	"github.com/jrsteele09/go-grant-auth/did"
	"github.com/jrsteele09/go-grant-auth/internal/config"
	"github.com/jrsteele09/go-grant-auth/internal/metrics"
	"github.com/jrsteele09/go-grant-auth/nostr"
	"github.com/jrsteele09/go-grant-auth/rbac"
	"github.com/jrsteele09/go-grant-auth/server"
	"github.com/jrsteele09/go-grant-auth/token"
	"github.com/jrsteele09/go-grant-auth/users"
	"github.com/jrsteele09/go-grant-auth/users/repofake"
)

const (
	applicantID       = "user-applicant"
	applicantEmail    = "applicant@grants.example"
	applicantPassword = "Applicant2025"
	ownerID           = "user-owner"
	ownerEmail        = "owner@grants.example"
	ownerPassword     = "SchemeOwner2025"

	testPubkey = "abababababababababababababababababababababababababababababababab"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type testFixture struct {
	clock      *fakeClock
	ledger     *audit.Ledger
	guard      *csrf.Guard
	users      *repofake.FakeUserRepo
	identities *repofake.FakeIdentityRepo
	server     *server.Server
}

type loginResult struct {
	AccessToken            string `json:"access_token"`
	RefreshToken           string `json:"refresh_token"`
	CSRFToken              string `json:"csrf_token"`
	PasswordChangeRequired bool   `json:"password_change_required"`
	User                   struct {
		ID string `json:"id"`
	} `json:"user"`
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	t.Setenv("ENV", "test")

	f := &testFixture{
		clock:      &fakeClock{now: time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)},
		identities: repofake.NewFakeIdentityRepo(),
	}
	userRepo := repofake.NewFakeUserRepo()
	f.users = userRepo
	for _, u := range []struct {
		id, email, password string
		role                rbac.Role
	}{
		{applicantID, applicantEmail, applicantPassword, rbac.RoleApplicant},
		{ownerID, ownerEmail, ownerPassword, rbac.RoleSchemeOwner},
	} {
		hash, err := users.HashPassword(u.password)
		require.NoError(t, err)
		require.NoError(t, userRepo.Upsert(context.Background(), &users.User{
			ID: u.id, Email: u.email, Role: u.role, PasswordHash: hash, Verified: true,
		}))
	}

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)

	tokens, err := token.NewFromSecrets("access-secret-for-tests", "refresh-secret-for-tests",
		token.WithNowFunc(f.clock.Now), token.WithMetrics(rec))
	require.NoError(t, err)
	f.ledger = audit.NewLedger(auditfake.NewFakeAuditRepo(), audit.WithNowFunc(f.clock.Now), audit.WithMetrics(rec))
	f.guard = csrf.NewGuard(csrf.NewMemoryStore(), csrf.WithNowFunc(f.clock.Now), csrf.WithMetrics(rec))
	verifier := nostr.NewVerifier(nostr.SchnorrVerifier{}, nostr.WithNowFunc(f.clock.Now))
	challenges := nostr.NewChallengeService(verifier, nostr.NewMemoryChallengeStore(), nostr.WithChallengeNowFunc(f.clock.Now))
	engine := rbac.NewEngine(rbac.WithMetrics(rec))

	service, err := auth.NewService(
		auth.Repos{Users: userRepo, Identities: f.identities},
		tokens, engine, f.ledger,
		auth.WithNowTime(f.clock.Now),
		auth.WithChallenges(challenges),
		auth.WithCSRFGuard(f.guard),
	)
	require.NoError(t, err)

	f.server, err = server.New(config.New(), server.Deps{
		Auth:     service,
		Engine:   engine,
		Ledger:   f.ledger,
		CSRF:     f.guard,
		Resolver: did.NewResolver(did.WithNowFunc(f.clock.Now), did.WithMetrics(rec)),
		HTTPAuth: nostr.NewHTTPAuth(verifier),
		Gatherer: reg,
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return f
}

func (f *testFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.server.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (f *testFixture) login(t *testing.T, email, password string) loginResult {
	t.Helper()
	rr := f.do(jsonRequest(t, http.MethodPost, server.RouteAuthLogin, map[string]string{"email": email, "password": password}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res loginResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	return res
}

// authed adds the bearer token and the CSRF double submit pair.
func authed(req *http.Request, session loginResult) *http.Request {
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	req.Header.Set(csrf.DefaultHeaderName, session.CSRFToken)
	req.AddCookie(&http.Cookie{Name: csrf.DefaultCookieName, Value: session.CSRFToken})
	return req
}

func (f *testFixture) entries(t *testing.T, action audit.Action) []audit.Entry {
	t.Helper()
	page, err := f.ledger.Query(context.Background(), audit.Filter{Actions: []audit.Action{action}})
	require.NoError(t, err)
	return page.Entries
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Error
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := server.New(config.New(), server.Deps{})
	require.Error(t, err)
}

func TestServer_Health(t *testing.T) {
	f := setupTestFixture(t)
	rr := f.do(httptest.NewRequest(http.MethodGet, server.RouteHealth, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"ok"`)
}

func TestLogin_Success(t *testing.T) {
	f := setupTestFixture(t)

	rr := f.do(jsonRequest(t, http.MethodPost, server.RouteAuthLogin, map[string]string{
		"email": applicantEmail, "password": applicantPassword,
	}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	require.Equal(t, "SAMEORIGIN", rr.Header().Get("X-Frame-Options"))

	var res loginResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)
	require.NotEmpty(t, res.CSRFToken)
	require.Equal(t, applicantID, res.User.ID)
	require.NotContains(t, rr.Body.String(), "password_hash")

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == csrf.DefaultCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	require.Equal(t, res.CSRFToken, cookie.Value)
}

func TestLogin_Failures(t *testing.T) {
	f := setupTestFixture(t)

	rr := f.do(jsonRequest(t, http.MethodPost, server.RouteAuthLogin, map[string]string{
		"email": applicantEmail, "password": "WrongPassword1",
	}))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "unauthorized", decodeError(t, rr))
	require.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodPost, server.RouteAuthLogin, strings.NewReader("{not json"))
	rr = f.do(req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_request", decodeError(t, rr))

	rr = f.do(jsonRequest(t, http.MethodPost, server.RouteAuthLogin, map[string]string{
		"email": "not-an-email", "password": "whatever",
	}))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMe_RequiresBearerToken(t *testing.T) {
	f := setupTestFixture(t)

	rr := f.do(httptest.NewRequest(http.MethodGet, server.RouteAuthMe, nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, server.RouteAuthMe, nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rr = f.do(req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, server.RouteAuthMe, nil)
	req.Header.Set("Authorization", "Bearer a.b.c")
	rr = f.do(req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMe_ReturnsActor(t *testing.T) {
	f := setupTestFixture(t)
	session := f.login(t, applicantEmail, applicantPassword)

	req := httptest.NewRequest(http.MethodGet, server.RouteAuthMe, nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	rr := f.do(req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Actor       rbac.Actor        `json:"actor"`
		Permissions []rbac.Permission `json:"permissions"`
		Scope       rbac.QueryScope   `json:"scope"`
		Identities  []any             `json:"identities"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, applicantID, body.Actor.ID)
	require.Equal(t, rbac.RoleApplicant, body.Actor.Role)
	require.NotEmpty(t, body.Actor.SessionID)
	require.Contains(t, body.Permissions, rbac.PermApplicationCreate)
	require.Equal(t, applicantID, body.Scope.OwnerID)
	require.NotNil(t, body.Identities)
}

func TestCSRF_ProtectsStateChangingRoutes(t *testing.T) {
	f := setupTestFixture(t)
	session := f.login(t, applicantEmail, applicantPassword)

	req := httptest.NewRequest(http.MethodPost, server.RouteAuthLogout, nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	rr := f.do(req)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rejected := f.entries(t, audit.ActionCSRFRejected)
	require.Len(t, rejected, 1)
	require.Equal(t, applicantID, rejected[0].ActorID)
	require.Equal(t, "POST "+server.RouteAuthLogout, rejected[0].TargetID)

	req = httptest.NewRequest(http.MethodPost, server.RouteAuthLogout, nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	req.Header.Set(csrf.DefaultHeaderName, session.CSRFToken)
	req.AddCookie(&http.Cookie{Name: csrf.DefaultCookieName, Value: strings.Repeat("0", len(session.CSRFToken))})
	rr = f.do(req)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestLogout_RevokesSession(t *testing.T) {
	f := setupTestFixture(t)
	session := f.login(t, applicantEmail, applicantPassword)

	rr := f.do(authed(httptest.NewRequest(http.MethodPost, server.RouteAuthLogout, nil), session))
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	req := httptest.NewRequest(http.MethodGet, server.RouteAuthMe, nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	rr = f.do(req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(jsonRequest(t, http.MethodPost, server.RouteAuthRefresh, map[string]string{"refresh_token": session.RefreshToken}))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Len(t, f.entries(t, audit.ActionLogout), 1)
}

func TestRefresh_RotatesAndDetectsReuse(t *testing.T) {
	f := setupTestFixture(t)
	session := f.login(t, applicantEmail, applicantPassword)

	rr := f.do(jsonRequest(t, http.MethodPost, server.RouteAuthRefresh, map[string]string{"refresh_token": session.RefreshToken}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var rotated loginResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rotated))
	require.NotEqual(t, session.RefreshToken, rotated.RefreshToken)

	rr = f.do(jsonRequest(t, http.MethodPost, server.RouteAuthRefresh, map[string]string{"refresh_token": session.RefreshToken}))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	// the replay revoked the whole family
	rr = f.do(jsonRequest(t, http.MethodPost, server.RouteAuthRefresh, map[string]string{"refresh_token": rotated.RefreshToken}))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(jsonRequest(t, http.MethodPost, server.RouteAuthRefresh, map[string]string{}))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestChangePassword(t *testing.T) {
	f := setupTestFixture(t)
	session := f.login(t, applicantEmail, applicantPassword)

	req := authed(jsonRequest(t, http.MethodPost, server.RouteChangePassword, map[string]string{
		"current_password": applicantPassword, "new_password": "BrandNewPass2026",
	}), session)
	rr := f.do(req)
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	f.login(t, applicantEmail, "BrandNewPass2026")

	req = authed(jsonRequest(t, http.MethodPost, server.RouteChangePassword, map[string]string{
		"current_password": "BrandNewPass2026", "new_password": "weak",
	}), session)
	rr = f.do(req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChangeRole(t *testing.T) {
	f := setupTestFixture(t)
	applicant := f.login(t, applicantEmail, applicantPassword)
	owner := f.login(t, ownerEmail, ownerPassword)

	target := "/admin/users/" + applicantID + "/role"
	rr := f.do(authed(jsonRequest(t, http.MethodPut, target, map[string]string{"role": "assessor"}), applicant))
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "forbidden", decodeError(t, rr))

	rr = f.do(authed(jsonRequest(t, http.MethodPut, target, map[string]string{"role": "wizard"}), owner))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(authed(jsonRequest(t, http.MethodPut, "/admin/users/nobody/role", map[string]string{"role": "assessor"}), owner))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(authed(jsonRequest(t, http.MethodPut, target, map[string]string{"role": "assessor"}), owner))
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	// the next request sees the new role without a new token
	req := httptest.NewRequest(http.MethodGet, server.RouteAuthMe, nil)
	req.Header.Set("Authorization", "Bearer "+applicant.AccessToken)
	rr = f.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"role":"assessor"`)
}

func TestAuditLogs_RequirePermission(t *testing.T) {
	f := setupTestFixture(t)
	applicant := f.login(t, applicantEmail, applicantPassword)
	owner := f.login(t, ownerEmail, ownerPassword)

	rr := f.do(authed(httptest.NewRequest(http.MethodGet, server.RouteAuditLogs, nil), applicant))
	require.Equal(t, http.StatusForbidden, rr.Code)

	denied := f.entries(t, audit.ActionAccessDenied)
	require.Len(t, denied, 1)
	require.Equal(t, string(rbac.PermAuditRead), denied[0].TargetID)

	rr = f.do(authed(httptest.NewRequest(http.MethodGet, server.RouteAuditLogs+"?action=auth.login&limit=1", nil), owner))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var page audit.Page
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Equal(t, 2, page.Total)
	require.Len(t, page.Entries, 1)
	require.Equal(t, 1, page.Limit)
	require.Len(t, f.entries(t, audit.ActionAuditView), 1)

	rr = f.do(authed(httptest.NewRequest(http.MethodGet, server.RouteAuditLogs+"?from=yesterday", nil), owner))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(authed(httptest.NewRequest(http.MethodGet, server.RouteAuditLogs+"?limit=-1", nil), owner))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuditSecurityAndStats(t *testing.T) {
	f := setupTestFixture(t)
	owner := f.login(t, ownerEmail, ownerPassword)

	rr := f.do(jsonRequest(t, http.MethodPost, server.RouteAuthLogin, map[string]string{
		"email": applicantEmail, "password": "WrongPassword1",
	}))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(authed(httptest.NewRequest(http.MethodGet, server.RouteAuditSecurity+"?success=false", nil), owner))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var page audit.Page
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Equal(t, 1, page.Total)
	require.Equal(t, applicantID, page.Entries[0].TargetID)

	rr = f.do(authed(httptest.NewRequest(http.MethodGet, server.RouteAuditStats+"?action=auth.login", nil), owner))
	require.Equal(t, http.StatusOK, rr.Code)
	var stats audit.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 1, stats.Failures)
}

func TestAuditExport(t *testing.T) {
	f := setupTestFixture(t)
	owner := f.login(t, ownerEmail, ownerPassword)

	rr := f.do(authed(httptest.NewRequest(http.MethodGet, server.RouteAuditExport+"?format=csv", nil), owner))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Header().Get("Content-Disposition"), ".csv")
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Equal(t, strings.Join(audit.CSVHeader, ","), lines[0])
	require.Len(t, lines, 2)

	exports := f.entries(t, audit.ActionAuditExport)
	require.Len(t, exports, 1)
	require.Equal(t, ownerID, exports[0].ActorID)

	rr = f.do(authed(httptest.NewRequest(http.MethodGet, server.RouteAuditExport+"?format=xml", nil), owner))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestResolveDID(t *testing.T) {
	f := setupTestFixture(t)

	rr := f.do(httptest.NewRequest(http.MethodGet, "/did/did:nostr:"+testPubkey+"?relay=wss://relay.grants.example", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var result did.ResolutionResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.True(t, result.OK())
	require.Equal(t, did.Prefix+testPubkey, result.Document.ID)
	require.Len(t, result.Document.Service, 1)

	req := httptest.NewRequest(http.MethodGet, "/did/did:nostr:"+testPubkey, nil)
	req.Header.Set("Accept", did.ContentTypeDIDJSON)
	rr = f.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, did.ContentTypeDIDJSON, rr.Header().Get("Content-Type"))
	var doc did.Document
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	require.Empty(t, did.VerifyDocument(&doc, testPubkey))

	rr = f.do(httptest.NewRequest(http.MethodGet, "/did/did:web:example.com", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Equal(t, did.ErrorInvalidDID, result.ResolutionMetadata.Error)
}

func newKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return key
}

func (f *testFixture) signedChallenge(t *testing.T, key *btcec.PrivateKey) *nostr.Event {
	t.Helper()
	rr := f.do(httptest.NewRequest(http.MethodGet, server.RouteNostrChallenge, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var c nostr.Challenge
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &c))
	require.NotEmpty(t, c.Value)

	e := &nostr.Event{
		CreatedAt: f.clock.Now().Unix(),
		Kind:      nostr.KindClientAuth,
		Tags:      nostr.Tags{{"challenge", c.Value}},
	}
	require.NoError(t, e.Sign(key))
	return e
}

func TestNostr_LinkLoginAndUnlink(t *testing.T) {
	f := setupTestFixture(t)
	key := newKey(t)
	pubkey := nostr.PublicKeyHex(key)

	rr := f.do(jsonRequest(t, http.MethodPost, server.RouteNostrLogin, map[string]any{"event": f.signedChallenge(t, key)}))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	session := f.login(t, applicantEmail, applicantPassword)
	rr = f.do(authed(jsonRequest(t, http.MethodPost, server.RouteNostrLink, map[string]any{"event": f.signedChallenge(t, key)}), session))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var link users.IdentityLink
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &link))
	require.Equal(t, pubkey, link.PubKey)
	require.Equal(t, did.Prefix+pubkey, link.DID)

	owner := f.login(t, ownerEmail, ownerPassword)
	rr = f.do(authed(jsonRequest(t, http.MethodPost, server.RouteNostrLink, map[string]any{"event": f.signedChallenge(t, key)}), owner))
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(jsonRequest(t, http.MethodPost, server.RouteNostrLogin, map[string]any{"event": f.signedChallenge(t, key)}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var nostrSession loginResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &nostrSession))
	require.Equal(t, applicantID, nostrSession.User.ID)

	rr = f.do(authed(httptest.NewRequest(http.MethodGet, server.RouteNostrLink, nil), session))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), pubkey)

	rr = f.do(authed(httptest.NewRequest(http.MethodDelete, "/auth/nostr/identities/"+pubkey, nil), session))
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	rr = f.do(authed(httptest.NewRequest(http.MethodDelete, "/auth/nostr/identities/"+pubkey, nil), session))
	require.Equal(t, http.StatusNotFound, rr.Code)
	rr = f.do(authed(httptest.NewRequest(http.MethodDelete, "/auth/nostr/identities/not-a-key", nil), session))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(jsonRequest(t, http.MethodPost, server.RouteNostrLogin, map[string]any{}))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNostr_SignedRequest(t *testing.T) {
	f := setupTestFixture(t)
	key := newKey(t)

	e := &nostr.Event{
		CreatedAt: f.clock.Now().Unix(),
		Kind:      nostr.KindHTTPAuth,
		Tags:      nostr.Tags{{"u", "http://api.grants.example/auth/nostr/whoami"}, {"method", "GET"}},
	}
	require.NoError(t, e.Sign(key))
	header, err := nostr.EncodeAuthorizationHeader(e)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://api.grants.example"+server.RouteNostrWhoAmI, nil)
	req.Header.Set("Authorization", header)
	rr := f.do(req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), nostr.PublicKeyHex(key))
	require.Contains(t, rr.Body.String(), did.Prefix)

	req = httptest.NewRequest(http.MethodGet, "http://other.example"+server.RouteNostrWhoAmI, nil)
	req.Header.Set("Authorization", header)
	rr = f.do(req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(httptest.NewRequest(http.MethodGet, server.RouteNostrWhoAmI, nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCSRFTokenEndpoint(t *testing.T) {
	f := setupTestFixture(t)

	rr := f.do(httptest.NewRequest(http.MethodGet, server.RouteAuthCSRF, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotEmpty(t, body["csrf_token"])
	require.Equal(t, csrf.DefaultHeaderName, body["header_name"])
	require.NoError(t, f.guard.ValidateDoubleSubmit(context.Background(), body["csrf_token"], body["csrf_token"]))
}

func TestCors(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://portal.grants.example")
	f := setupTestFixture(t)

	req := httptest.NewRequest(http.MethodOptions, server.RouteAuthLogin, nil)
	req.Header.Set("Origin", "https://portal.grants.example")
	rr := f.do(req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "https://portal.grants.example", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
	require.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "X-CSRF-Token")

	req = httptest.NewRequest(http.MethodOptions, server.RouteAuthLogin, nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = f.do(req)
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, applicantEmail, applicantPassword)

	rr := f.do(httptest.NewRequest(http.MethodGet, server.RouteMetrics, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "grantauth_tokens_issued_total")
}

func TestRecoverMiddleware(t *testing.T) {
	f := setupTestFixture(t)
	h := server.ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}, f.server.RecoverMiddleware)

	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, rr.Body.String(), "server_error")
	require.NotContains(t, rr.Body.String(), "boom")
}

func TestRequestInfo_RecordedOnAuditEntries(t *testing.T) {
	f := setupTestFixture(t)

	req := jsonRequest(t, http.MethodPost, server.RouteAuthLogin, map[string]string{
		"email": applicantEmail, "password": applicantPassword,
	})
	req.Header.Set("X-Forwarded-For", "203.0.113.77, 10.0.0.1")
	req.Header.Set("User-Agent", "grant-portal/1.0")
	rr := f.do(req)
	require.Equal(t, http.StatusOK, rr.Code)

	logins := f.entries(t, audit.ActionLogin)
	require.Len(t, logins, 1)
	require.Equal(t, "grant-portal/1.0", logins[0].UserAgent)
	require.Equal(t, audit.AnonymizeIP("203.0.113.77"), logins[0].IPAddress)
}

func TestBootstrapAdmin_LogsInAndMustChangePassword(t *testing.T) {
	f := setupTestFixture(t)
	t.Setenv("BASE_URL", "")
	t.Setenv("SYSTEM_ADMIN_USER", "")
	t.Setenv("SYSTEM_ADMIN_PASSWORD", "")

	password, err := server.InitialiseSystem(context.Background(), config.New(), f.users, zerolog.Nop())
	require.NoError(t, err)
	require.NotEmpty(t, password)

	session := f.login(t, "admin@localhost.localdomain", password)
	require.True(t, session.PasswordChangeRequired)

	rr := f.do(authed(httptest.NewRequest(http.MethodGet, server.RouteAuditLogs, nil), session))
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "password_change_required", decodeError(t, rr))

	rr = f.do(authed(jsonRequest(t, http.MethodPut, "/admin/users/"+applicantID+"/role", map[string]string{"role": "coordinator"}), session))
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(authed(httptest.NewRequest(http.MethodGet, server.RouteAuthMe, nil), session))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = f.do(authed(jsonRequest(t, http.MethodPost, server.RouteChangePassword, map[string]string{
		"current_password": password, "new_password": "Bootstrapped2026",
	}), session))
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = f.do(authed(httptest.NewRequest(http.MethodGet, server.RouteAuditLogs, nil), session))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	again := f.login(t, "admin@localhost.localdomain", "Bootstrapped2026")
	require.False(t, again.PasswordChangeRequired)
}
