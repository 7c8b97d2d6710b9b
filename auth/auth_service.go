package auth

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-grant-auth/audit"
	"github.com/jrsteele09/go-grant-auth/csrf"
	"github.com/jrsteele09/go-grant-auth/did"
	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/nostr"
	"github.com/jrsteele09/go-grant-auth/rbac"
	"github.com/jrsteele09/go-grant-auth/token"
	"github.com/jrsteele09/go-grant-auth/users"
)

const (
	targetUser     = "user"
	targetPubkey   = "nostr_pubkey"
	targetFamily   = "token_family"
	targetResource = "permission"

	methodPassword = "password"
	methodNostr    = "nostr"
)

// Repos holds all repository dependencies for the Service
type Repos struct {
	Users      users.UserRepo     // Repository for user data
	Identities users.IdentityRepo // Repository for linked Nostr identities
}

// Session is what a successful login or refresh hands back.
type Session struct {
	Tokens *token.TokenPair `json:"tokens"`
	User   *users.User      `json:"user"`
	Actor  rbac.Actor       `json:"-"`
	CSRF   *csrf.Token      `json:"-"` // Set on login when a CSRF guard is configured

	// PasswordChangeRequired means the session may only change the password
	// until ChangePassword succeeds.
	PasswordChangeRequired bool `json:"password_change_required,omitempty"`
}

// Service composes tokens, permissions, identities and the audit ledger into
// the login, refresh, logout and authorization flows.
type Service struct {
	repos      Repos
	tokens     *token.Manager
	engine     *rbac.Engine
	ledger     *audit.Ledger
	challenges *nostr.ChallengeService
	csrf       *csrf.Guard
	nip05      *did.NIP05Verifier
	validator  *Validator

	maxFailedLogins int
	lockoutWindow   time.Duration

	nowTime func() time.Time // nowTime function (injectable for testing)
	log     zerolog.Logger
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) { s.nowTime = nowFunc }
}

func WithLogger(log zerolog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// WithChallenges enables Nostr login and identity linking.
func WithChallenges(c *nostr.ChallengeService) ServiceOption {
	return func(s *Service) { s.challenges = c }
}

// WithCSRFGuard issues a CSRF token per session and revokes it on logout.
func WithCSRFGuard(g *csrf.Guard) ServiceOption {
	return func(s *Service) { s.csrf = g }
}

// WithNIP05Verifier makes LinkIdentity verify claimed NIP-05 names.
func WithNIP05Verifier(v *did.NIP05Verifier) ServiceOption {
	return func(s *Service) { s.nip05 = v }
}

// WithLoginThrottle refuses password logins once a user has max failures
// within window. Zero max disables the check.
func WithLoginThrottle(max int, window time.Duration) ServiceOption {
	return func(s *Service) {
		s.maxFailedLogins = max
		s.lockoutWindow = window
	}
}

// NewService initializes a new Service with required dependencies.
func NewService(
	repos Repos,
	tokens *token.Manager,
	engine *rbac.Engine,
	ledger *audit.Ledger,
	options ...ServiceOption,
) (*Service, error) {
	if repos.Users == nil {
		return nil, errors.New("[NewService] Users repo is required")
	}
	if repos.Identities == nil {
		return nil, errors.New("[NewService] Identities repo is required")
	}
	if tokens == nil {
		return nil, errors.New("[NewService] token manager is required")
	}
	if engine == nil {
		return nil, errors.New("[NewService] permission engine is required")
	}
	if ledger == nil {
		return nil, errors.New("[NewService] audit ledger is required")
	}

	s := &Service{
		repos:     repos,
		tokens:    tokens,
		engine:    engine,
		ledger:    ledger,
		validator: NewValidator(),
		nowTime:   time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// LoginWithPassword checks the credentials and starts a session.
func (s *Service) LoginWithPassword(ctx context.Context, email, password string) (*Session, error) {
	if err := s.validator.ValidateUserCredentials(email, password); err != nil {
		return nil, err
	}

	user, err := s.repos.Users.GetByEmail(ctx, email)
	if err != nil {
		if stderrors.Is(err, apperrors.ErrUserNotFound) {
			s.record(ctx, audit.Event{
				Action:     audit.ActionLogin,
				TargetType: targetUser,
				Details:    map[string]any{"method": methodPassword, "email": email},
				Err:        apperrors.ErrInvalidCredentials,
			})
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "[Service.LoginWithPassword] GetByEmail")
	}

	if err := s.checkThrottle(ctx, user); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateUserState(user); err != nil {
		s.loginFailed(ctx, user.ID, methodPassword, err)
		return nil, err
	}
	if !user.CheckPassword(password) {
		s.loginFailed(ctx, user.ID, methodPassword, apperrors.ErrInvalidCredentials)
		return nil, apperrors.ErrInvalidCredentials
	}

	return s.startSession(ctx, user, audit.ActionLogin, methodPassword)
}

// IssueNostrChallenge creates a login challenge for a Nostr client to sign.
func (s *Service) IssueNostrChallenge(ctx context.Context) (*nostr.Challenge, error) {
	if s.challenges == nil {
		return nil, apperrors.ErrNoSignatureBackend
	}
	return s.challenges.Issue(ctx)
}

// LoginWithNostr verifies a signed challenge and starts a session for the
// user the signing key is linked to.
func (s *Service) LoginWithNostr(ctx context.Context, e *nostr.Event) (*Session, error) {
	if s.challenges == nil {
		return nil, apperrors.ErrNoSignatureBackend
	}

	pubkey, err := s.challenges.Verify(ctx, e)
	if err != nil {
		s.record(ctx, audit.Event{
			Action:     audit.ActionNostrLogin,
			TargetType: targetPubkey,
			TargetID:   eventPubkey(e),
			Details:    map[string]any{"method": methodNostr},
			Err:        err,
		})
		return nil, err
	}

	link, err := s.repos.Identities.GetByPubkey(ctx, pubkey)
	if err != nil {
		s.record(ctx, audit.Event{
			Action:     audit.ActionNostrLogin,
			TargetType: targetPubkey,
			TargetID:   pubkey,
			Details:    map[string]any{"method": methodNostr},
			Err:        err,
		})
		if stderrors.Is(err, apperrors.ErrIdentityNotLinked) {
			return nil, err
		}
		return nil, errors.Wrap(err, "[Service.LoginWithNostr] GetByPubkey")
	}

	user, err := s.repos.Users.GetByID(ctx, link.UserID)
	if err != nil {
		s.loginFailedAction(ctx, audit.ActionNostrLogin, link.UserID, methodNostr, err)
		return nil, errors.Wrap(err, "[Service.LoginWithNostr] GetByID")
	}
	if err := s.validator.ValidateUserState(user); err != nil {
		s.loginFailedAction(ctx, audit.ActionNostrLogin, user.ID, methodNostr, err)
		return nil, err
	}

	return s.startSession(ctx, user, audit.ActionNostrLogin, methodNostr)
}

// LinkIdentity binds the key that signed e to actor. e must answer a pending
// challenge. A claimed NIP-05 name is stored only after it verifies.
func (s *Service) LinkIdentity(ctx context.Context, actor rbac.Actor, e *nostr.Event, nip05 string) (*users.IdentityLink, error) {
	if s.challenges == nil {
		return nil, apperrors.ErrNoSignatureBackend
	}
	if err := s.requirePermission(ctx, actor, rbac.PermProfileUpdateOwn); err != nil {
		return nil, err
	}

	fail := func(target string, err error) error {
		s.record(ctx, audit.Event{
			Action:     audit.ActionIdentityLink,
			TargetType: targetPubkey,
			TargetID:   target,
			ActorID:    actor.ID,
			ActorRole:  string(actor.Role),
			Err:        err,
		})
		return err
	}

	pubkey, err := s.challenges.Verify(ctx, e)
	if err != nil {
		return nil, fail(eventPubkey(e), err)
	}

	if nip05 != "" {
		if s.nip05 == nil {
			return nil, fail(pubkey, apperrors.NewValidation("nip05", "verification is not configured"))
		}
		res := s.nip05.Verify(ctx, nip05, pubkey)
		if !res.Verified {
			return nil, fail(pubkey, apperrors.NewValidation("nip05", string(res.Failure)+": "+res.Reason))
		}
	}

	didID, err := did.PubkeyToDID(pubkey)
	if err != nil {
		return nil, fail(pubkey, err)
	}
	link := &users.IdentityLink{
		ID:        uuid.NewString(),
		UserID:    actor.ID,
		PubKey:    pubkey,
		NIP05:     nip05,
		DID:       didID,
		CreatedAt: s.nowTime().UTC(),
	}
	if err := s.repos.Identities.Link(ctx, link); err != nil {
		return nil, fail(pubkey, err)
	}

	s.record(ctx, audit.Event{
		Action:     audit.ActionIdentityLink,
		TargetType: targetPubkey,
		TargetID:   pubkey,
		ActorID:    actor.ID,
		ActorRole:  string(actor.Role),
		Details:    map[string]any{"did": didID, "nip05": nip05},
	})
	return link, nil
}

// UnlinkIdentity removes one of actor's linked keys.
func (s *Service) UnlinkIdentity(ctx context.Context, actor rbac.Actor, pubkey string) error {
	normalized, err := s.validator.ValidatePubkey(pubkey)
	if err != nil {
		return err
	}
	err = s.repos.Identities.Unlink(ctx, actor.ID, normalized)
	s.record(ctx, audit.Event{
		Action:     audit.ActionIdentityUnlink,
		TargetType: targetPubkey,
		TargetID:   normalized,
		ActorID:    actor.ID,
		ActorRole:  string(actor.Role),
		Err:        err,
	})
	return err
}

// Identities lists the keys linked to userID.
func (s *Service) Identities(ctx context.Context, userID string) ([]*users.IdentityLink, error) {
	return s.repos.Identities.ListByUser(ctx, userID)
}

// DIDProfile supplies document options for a did:nostr resolution. Keys that
// are not linked still resolve; they just carry no platform profile.
func (s *Service) DIDProfile(ctx context.Context, pubkey string) (did.Options, error) {
	link, err := s.repos.Identities.GetByPubkey(ctx, pubkey)
	if err != nil {
		if stderrors.Is(err, apperrors.ErrIdentityNotLinked) {
			return did.Options{}, nil
		}
		return did.Options{}, errors.Wrap(err, "[Service.DIDProfile] GetByPubkey")
	}
	return did.Options{NIP05: link.NIP05}, nil
}

// Authenticate verifies an access token and builds the actor from the
// current user record, so role changes and blocks apply immediately.
func (s *Service) Authenticate(ctx context.Context, rawAccessToken string) (rbac.Actor, error) {
	if err := s.validator.ValidateAccessToken(rawAccessToken); err != nil {
		return rbac.Actor{}, err
	}
	claims, err := s.tokens.VerifyAccessToken(ctx, rawAccessToken)
	if err != nil {
		s.log.Debug().Err(err).Msg("access token rejected")
		return rbac.Actor{}, err
	}

	user, err := s.repos.Users.GetByID(ctx, claims.Subject)
	if err != nil {
		if stderrors.Is(err, apperrors.ErrUserNotFound) {
			return rbac.Actor{}, apperrors.NewAuthentication("token subject no longer exists", err)
		}
		return rbac.Actor{}, errors.Wrap(err, "[Service.Authenticate] GetByID")
	}
	if err := s.validator.ValidateUserState(user); err != nil {
		return rbac.Actor{}, err
	}
	return user.Actor(claims.SessionID), nil
}

// Authorize checks p against the actor and optional ownership. Denials are
// audited and returned as *errors.AuthorizationError, or as
// ErrPasswordChangeRequired while the actor must change its password.
func (s *Service) Authorize(ctx context.Context, actor rbac.Actor, p rbac.Permission, ownership *rbac.Ownership) error {
	if actor.PasswordChangeRequired {
		s.denied(ctx, actor, p, apperrors.ErrPasswordChangeRequired)
		return apperrors.ErrPasswordChangeRequired
	}
	d := s.engine.CheckResourceAccess(actor, p, ownership)
	if d.Granted {
		return nil
	}
	err := rbac.Authorize(d, p)
	s.denied(ctx, actor, p, err)
	return err
}

// Refresh rotates a refresh token. A replayed or exhausted family is
// rejected for good and audited.
func (s *Service) Refresh(ctx context.Context, rawRefreshToken string) (*Session, error) {
	var (
		claims *token.RefreshClaims
		user   *users.User
	)
	pair, err := s.tokens.RefreshWith(ctx, rawRefreshToken, func(ctx context.Context, c *token.RefreshClaims) (token.Subject, error) {
		claims = c
		u, err := s.repos.Users.GetByID(ctx, c.Subject)
		if err == nil {
			err = s.validator.ValidateUserState(u)
		}
		if err != nil {
			if rerr := s.tokens.RevokeFamily(ctx, c.FamilyID); rerr != nil {
				s.log.Error().Err(rerr).Str("family_id", c.FamilyID).Msg("revoking family of unusable user")
			}
			return token.Subject{}, err
		}
		user = u
		return s.subjectFor(u, c.FamilyID), nil
	})
	if err != nil {
		var userID, familyID string
		if claims != nil {
			userID, familyID = claims.Subject, claims.FamilyID
		}
		s.refreshFailed(ctx, userID, familyID, err)
		return nil, err
	}

	s.record(ctx, audit.Event{
		Action:     audit.ActionTokenRefresh,
		TargetType: targetFamily,
		TargetID:   claims.FamilyID,
		ActorID:    user.ID,
		ActorRole:  string(user.Role),
	})
	return &Session{
		Tokens:                 pair,
		User:                   user,
		Actor:                  user.Actor(claims.FamilyID),
		PasswordChangeRequired: user.PasswordChangeRequired,
	}, nil
}

// Logout revokes the access token, its refresh family and any CSRF tokens
// bound to the session.
func (s *Service) Logout(ctx context.Context, rawAccessToken string) error {
	claims, err := s.tokens.VerifyAccessToken(ctx, rawAccessToken)
	if err != nil {
		return err
	}

	if err := s.tokens.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return errors.Wrap(err, "[Service.Logout] revoke access token")
	}
	if claims.SessionID != "" {
		if err := s.tokens.RevokeFamily(ctx, claims.SessionID); err != nil {
			return errors.Wrap(err, "[Service.Logout] revoke family")
		}
		if s.csrf != nil {
			if _, err := s.csrf.RevokeSession(ctx, claims.SessionID); err != nil {
				s.log.Warn().Err(err).Str("session_id", claims.SessionID).Msg("csrf session revoke failed")
			}
		}
	}

	s.record(ctx, audit.Event{
		Action:     audit.ActionLogout,
		TargetType: targetUser,
		TargetID:   claims.Subject,
		ActorID:    claims.Subject,
		ActorRole:  claims.Role,
		Details:    map[string]any{"session_id": claims.SessionID},
	})
	return nil
}

// ChangeRole assigns role to userID. Callers need role:assign and cannot
// change their own role.
func (s *Service) ChangeRole(ctx context.Context, actor rbac.Actor, userID string, role rbac.Role) error {
	if err := s.requirePermission(ctx, actor, rbac.PermRoleAssign); err != nil {
		return err
	}
	if err := s.validator.ValidateRole(role); err != nil {
		return err
	}
	if userID == actor.ID {
		err := &apperrors.AuthorizationError{Permission: string(rbac.PermRoleAssign), Reason: "cannot change own role"}
		s.denied(ctx, actor, rbac.PermRoleAssign, err)
		return err
	}

	user, err := s.repos.Users.GetByID(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "[Service.ChangeRole] GetByID")
	}
	err = s.repos.Users.SetRole(ctx, userID, role)
	s.record(ctx, audit.Event{
		Action:     audit.ActionRoleChange,
		TargetType: targetUser,
		TargetID:   userID,
		ActorID:    actor.ID,
		ActorRole:  string(actor.Role),
		Details:    map[string]any{"from": string(user.Role), "to": string(role)},
		Err:        err,
	})
	if err != nil {
		return errors.Wrap(err, "[Service.ChangeRole] SetRole")
	}
	return nil
}

// ChangePassword replaces actor's password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, actor rbac.Actor, current, next string) error {
	user, err := s.repos.Users.GetByID(ctx, actor.ID)
	if err != nil {
		return errors.Wrap(err, "[Service.ChangePassword] GetByID")
	}

	event := audit.Event{
		Action:     audit.ActionPasswordChange,
		TargetType: targetUser,
		TargetID:   user.ID,
		ActorID:    actor.ID,
		ActorRole:  string(actor.Role),
	}
	if !user.CheckPassword(current) {
		event.Err = apperrors.ErrInvalidCredentials
		s.record(ctx, event)
		return apperrors.ErrInvalidCredentials
	}
	if err := s.validator.ValidateNewPassword(current, next); err != nil {
		return err
	}

	hash, err := users.HashPassword(next)
	if err != nil {
		return errors.Wrap(err, "[Service.ChangePassword] hash")
	}
	user.PasswordHash = hash
	user.PasswordChangeRequired = false
	event.Err = s.repos.Users.Upsert(ctx, user)
	s.record(ctx, event)
	if event.Err != nil {
		return errors.Wrap(event.Err, "[Service.ChangePassword] Upsert")
	}
	return nil
}

// requirePermission denies every permission while a password change is
// pending, then defers to the engine. Denials are audited.
func (s *Service) requirePermission(ctx context.Context, actor rbac.Actor, p rbac.Permission) error {
	err := apperrors.ErrPasswordChangeRequired
	if !actor.PasswordChangeRequired {
		err = s.engine.RequirePermission(actor, p)
	}
	if err != nil {
		s.denied(ctx, actor, p, err)
		return err
	}
	return nil
}

func (s *Service) startSession(ctx context.Context, user *users.User, action audit.Action, method string) (*Session, error) {
	pair, err := s.tokens.IssueTokenPair(ctx, s.subjectFor(user, ""))
	if err != nil {
		return nil, errors.Wrap(err, "[Service.startSession] IssueTokenPair")
	}

	now := s.nowTime().UTC()
	if err := s.repos.Users.RecordLogin(ctx, user.ID, now); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("record login failed")
	}
	user.LastLogin = now

	session := &Session{
		Tokens:                 pair,
		User:                   user,
		Actor:                  user.Actor(pair.FamilyID),
		PasswordChangeRequired: user.PasswordChangeRequired,
	}
	if s.csrf != nil {
		if session.CSRF, err = s.csrf.Generate(ctx, pair.FamilyID); err != nil {
			return nil, errors.Wrap(err, "[Service.startSession] csrf")
		}
	}

	s.record(ctx, audit.Event{
		Action:     action,
		TargetType: targetUser,
		TargetID:   user.ID,
		ActorID:    user.ID,
		ActorRole:  string(user.Role),
		Details:    map[string]any{"method": method, "session_id": pair.FamilyID},
	})
	return session, nil
}

func (s *Service) checkThrottle(ctx context.Context, user *users.User) error {
	if s.maxFailedLogins <= 0 {
		return nil
	}
	failures, err := s.ledger.FailedLogins(ctx, user.ID, s.nowTime().Add(-s.lockoutWindow))
	if err != nil {
		return errors.Wrap(err, "[Service.checkThrottle]")
	}
	if len(failures) < s.maxFailedLogins {
		return nil
	}
	s.record(ctx, audit.Event{
		Action:     audit.ActionRateLimit,
		TargetType: targetUser,
		TargetID:   user.ID,
		Details:    map[string]any{"failures": len(failures), "window": s.lockoutWindow.String()},
		Err:        apperrors.ErrTooManyAttempts,
	})
	return apperrors.ErrTooManyAttempts
}

func (s *Service) loginFailed(ctx context.Context, userID, method string, err error) {
	s.loginFailedAction(ctx, audit.ActionLogin, userID, method, err)
}

func (s *Service) loginFailedAction(ctx context.Context, action audit.Action, userID, method string, err error) {
	s.record(ctx, audit.Event{
		Action:     action,
		TargetType: targetUser,
		TargetID:   userID,
		Details:    map[string]any{"method": method},
		Err:        err,
	})
}

func (s *Service) refreshFailed(ctx context.Context, userID, familyID string, err error) {
	action := audit.ActionTokenRefresh
	if stderrors.Is(err, apperrors.ErrFamilyExceeded) || stderrors.Is(err, apperrors.ErrRevoked) {
		action = audit.ActionFamilyRejected
	}
	s.record(ctx, audit.Event{
		Action:     action,
		TargetType: targetFamily,
		TargetID:   familyID,
		ActorID:    userID,
		Err:        err,
	})
}

func (s *Service) denied(ctx context.Context, actor rbac.Actor, p rbac.Permission, err error) {
	s.record(ctx, audit.Event{
		Action:     audit.ActionAccessDenied,
		TargetType: targetResource,
		TargetID:   string(p),
		ActorID:    actor.ID,
		ActorRole:  string(actor.Role),
		Err:        err,
	})
}

// record writes to the ledger. A ledger failure never fails the flow that
// produced the event.
func (s *Service) record(ctx context.Context, ev audit.Event) {
	if _, err := s.ledger.Record(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("action", string(ev.Action)).Msg("audit record failed")
	}
}

// subjectFor carries the user's effective permissions into the access token.
func (s *Service) subjectFor(user *users.User, sessionID string) token.Subject {
	effective := s.engine.EffectivePermissions(user.Actor(sessionID))
	perms := make([]string, 0, len(effective))
	for _, p := range effective {
		perms = append(perms, string(p))
	}
	return token.Subject{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        string(user.Role),
		Permissions: perms,
		SessionID:   sessionID,
	}
}

func eventPubkey(e *nostr.Event) string {
	if e == nil {
		return ""
	}
	if pk, ok := nostr.NormalizePubkey(e.PubKey); ok {
		return pk
	}
	return ""
}
