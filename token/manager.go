package token

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/internal/metrics"
)

const (
	DefaultMaxRotations = 5
	bearerTokenType     = "Bearer"
)

// Manager issues and verifies access and refresh tokens and owns the
// revocation and refresh-family state behind them.
type Manager struct {
	accessSigner       Signer
	refreshSigner      Signer
	store              Store
	issuer             string
	audience           string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	maxRotations       int
	nowFunc            func() time.Time
	log                zerolog.Logger
	metrics            metrics.Recorder
	familyLocks        *keyedMutex
}

type ManagerOption func(*Manager)

func WithTokenExpiry(accessTokenExpiry, refreshTokenExpiry time.Duration) ManagerOption {
	return func(m *Manager) {
		m.accessTokenExpiry = accessTokenExpiry
		m.refreshTokenExpiry = refreshTokenExpiry
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func WithIssuer(issuer string) ManagerOption {
	return func(m *Manager) {
		m.issuer = issuer
	}
}

func WithAudience(audience string) ManagerOption {
	return func(m *Manager) {
		m.audience = audience
	}
}

func WithStore(store Store) ManagerOption {
	return func(m *Manager) {
		m.store = store
	}
}

// WithMaxRotations sets how many times one refresh family may rotate.
func WithMaxRotations(max int) ManagerOption {
	return func(m *Manager) {
		m.maxRotations = max
	}
}

func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

func WithMetrics(r metrics.Recorder) ManagerOption {
	return func(m *Manager) {
		m.metrics = r
	}
}

// New creates a Manager. Access and refresh tokens must use different signers.
func New(accessSigner, refreshSigner Signer, options ...ManagerOption) (*Manager, error) {
	if accessSigner == nil || refreshSigner == nil {
		return nil, errors.New("[token.New] access and refresh signers are required")
	}
	if accessSigner == refreshSigner {
		return nil, errors.New("[token.New] access and refresh signers must be distinct")
	}

	m := &Manager{
		accessSigner:  accessSigner,
		refreshSigner: refreshSigner,
		store:         NewInMemoryStore(),
		log:           zerolog.Nop(),
		metrics:       metrics.Noop{},
		familyLocks:   newKeyedMutex(),
	}

	for _, opt := range options {
		opt(m)
	}

	if m.accessTokenExpiry == 0 {
		m.accessTokenExpiry = 15 * time.Minute
	}
	if m.refreshTokenExpiry == 0 {
		m.refreshTokenExpiry = 7 * 24 * time.Hour
	}
	if m.maxRotations <= 0 {
		m.maxRotations = DefaultMaxRotations
	}
	if m.nowFunc == nil {
		m.nowFunc = time.Now
	}
	return m, nil
}

// NewFromSecrets builds HMAC signers from two secrets and creates a Manager.
func NewFromSecrets(accessSecret, refreshSecret string, options ...ManagerOption) (*Manager, error) {
	if strings.TrimSpace(accessSecret) == "" || strings.TrimSpace(refreshSecret) == "" {
		return nil, errors.New("[token.NewFromSecrets] access and refresh secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("[token.NewFromSecrets] access and refresh secrets must differ")
	}
	return New(NewHMACSigner(accessSecret), NewHMACSigner(refreshSecret), options...)
}

// AccessTokenExpiry returns the configured access token lifetime.
func (m *Manager) AccessTokenExpiry() time.Duration {
	return m.accessTokenExpiry
}

// MaxRotations returns the configured refresh family limit.
func (m *Manager) MaxRotations() int {
	return m.maxRotations
}

func (m *Manager) IssueAccessToken(subject Subject) (string, *AccessClaims, error) {
	if strings.TrimSpace(subject.UserID) == "" {
		return "", nil, apperrors.NewValidation("subject", "user id is required")
	}

	now := m.nowFunc()
	permissions := subject.Permissions
	if permissions == nil {
		permissions = []string{}
	}
	claims := &AccessClaims{
		Email:       subject.Email,
		Role:        subject.Role,
		Permissions: permissions,
		SessionID:   subject.SessionID,
		TokenType:   AccessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject.UserID,
			Issuer:    m.issuer,
			Audience:  m.audienceClaim(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTokenExpiry)),
		},
	}

	signed, err := m.accessSigner.Sign(claims)
	if err != nil {
		return "", nil, errors.Wrap(err, "[IssueAccessToken] sign")
	}
	m.metrics.TokenIssued(string(AccessTokenType))
	return signed, claims, nil
}

// IssueRefreshToken mints a refresh token in familyID, starting a new family
// when familyID is empty. Each issuance increments the family rotation count.
func (m *Manager) IssueRefreshToken(ctx context.Context, userID, familyID string) (string, *RefreshClaims, error) {
	if strings.TrimSpace(userID) == "" {
		return "", nil, apperrors.NewValidation("subject", "user id is required")
	}
	if familyID == "" {
		familyID = uuid.NewString()
	} else {
		family, err := m.store.GetFamily(ctx, familyID)
		if err != nil && !stderrors.Is(err, apperrors.ErrNotFound) {
			return "", nil, errors.Wrap(err, "[IssueRefreshToken] get family")
		}
		if family != nil && family.Rejected(m.maxRotations) {
			return "", nil, apperrors.ErrFamilyExceeded
		}
	}

	now := m.nowFunc()
	if _, err := m.store.IncrementFamily(ctx, familyID, now); err != nil {
		return "", nil, errors.Wrap(err, "[IssueRefreshToken] increment family")
	}

	claims := &RefreshClaims{
		FamilyID:  familyID,
		TokenType: RefreshTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    m.issuer,
			Audience:  m.audienceClaim(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.refreshTokenExpiry)),
		},
	}

	signed, err := m.refreshSigner.Sign(claims)
	if err != nil {
		return "", nil, errors.Wrap(err, "[IssueRefreshToken] sign")
	}
	m.metrics.TokenIssued(string(RefreshTokenType))
	return signed, claims, nil
}

// IssueTokenPair mints an access token and a refresh token in a new family.
// When subject carries no session id the family id is used as one.
func (m *Manager) IssueTokenPair(ctx context.Context, subject Subject) (*TokenPair, error) {
	familyID := uuid.NewString()
	if subject.SessionID == "" {
		subject.SessionID = familyID
	}
	return m.issuePair(ctx, subject, familyID)
}

func (m *Manager) issuePair(ctx context.Context, subject Subject, familyID string) (*TokenPair, error) {
	access, accessClaims, err := m.IssueAccessToken(subject)
	if err != nil {
		return nil, err
	}
	refresh, refreshClaims, err := m.IssueRefreshToken(ctx, subject.UserID, familyID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        bearerTokenType,
		ExpiresIn:        int(m.accessTokenExpiry.Seconds()),
		AccessExpiresAt:  expiryOf(accessClaims.RegisteredClaims),
		RefreshExpiresAt: expiryOf(refreshClaims.RegisteredClaims),
		FamilyID:         refreshClaims.FamilyID,
	}, nil
}

func (m *Manager) VerifyAccessToken(ctx context.Context, rawToken string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(rawToken, m.accessSigner, claims); err != nil {
		m.metrics.TokenVerified(string(AccessTokenType), resultLabel(err))
		return nil, err
	}
	if claims.TokenType != AccessTokenType {
		m.metrics.TokenVerified(string(AccessTokenType), "wrong_type")
		return nil, apperrors.ErrWrongTokenType
	}

	revoked, err := m.store.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, errors.Wrap(err, "[VerifyAccessToken] revocation lookup")
	}
	if revoked {
		m.metrics.TokenVerified(string(AccessTokenType), "revoked")
		return nil, apperrors.ErrRevoked
	}

	m.metrics.TokenVerified(string(AccessTokenType), "ok")
	return claims, nil
}

// VerifyRefreshToken validates a refresh token and its family. A family past
// the rotation limit is rejected for good. Presenting an already revoked
// refresh token while its family is active is treated as replay of a rotated
// token and rejects the family as well.
func (m *Manager) VerifyRefreshToken(ctx context.Context, rawToken string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(rawToken, m.refreshSigner, claims); err != nil {
		m.metrics.TokenVerified(string(RefreshTokenType), resultLabel(err))
		return nil, err
	}
	if claims.TokenType != RefreshTokenType || claims.FamilyID == "" {
		m.metrics.TokenVerified(string(RefreshTokenType), "wrong_type")
		return nil, apperrors.ErrWrongTokenType
	}

	family, err := m.store.GetFamily(ctx, claims.FamilyID)
	if err != nil {
		if stderrors.Is(err, apperrors.ErrNotFound) {
			m.metrics.TokenVerified(string(RefreshTokenType), "revoked")
			return nil, apperrors.ErrRevoked
		}
		return nil, errors.Wrap(err, "[VerifyRefreshToken] family lookup")
	}
	if family.Rejected(m.maxRotations) {
		if err := m.RevokeFamily(ctx, claims.FamilyID); err != nil {
			return nil, err
		}
		m.metrics.TokenVerified(string(RefreshTokenType), "family_exceeded")
		return nil, apperrors.ErrFamilyExceeded
	}

	revoked, err := m.store.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, errors.Wrap(err, "[VerifyRefreshToken] revocation lookup")
	}
	if revoked {
		m.log.Warn().
			Str("family_id", claims.FamilyID).
			Str("subject", claims.Subject).
			Msg("revoked refresh token presented, rejecting family")
		if err := m.RevokeFamily(ctx, claims.FamilyID); err != nil {
			return nil, err
		}
		m.metrics.TokenVerified(string(RefreshTokenType), "revoked")
		return nil, apperrors.ErrRevoked
	}

	m.metrics.TokenVerified(string(RefreshTokenType), "ok")
	return claims, nil
}

// SubjectFunc supplies the subject for a verified refresh token. An error
// aborts the rotation and leaves the old token untouched.
type SubjectFunc func(ctx context.Context, claims *RefreshClaims) (Subject, error)

// Refresh rotates oldRefreshToken: the old token is revoked and a new pair is
// minted in the same family. Rotations of one family never run concurrently.
func (m *Manager) Refresh(ctx context.Context, oldRefreshToken string, subject Subject) (*TokenPair, error) {
	return m.RefreshWith(ctx, oldRefreshToken, func(context.Context, *RefreshClaims) (Subject, error) {
		return subject, nil
	})
}

// RefreshWith is Refresh with the subject looked up from the verified claims.
// resolve runs under the family lock, so the token is verified exactly once.
func (m *Manager) RefreshWith(ctx context.Context, oldRefreshToken string, resolve SubjectFunc) (*TokenPair, error) {
	if err := m.refreshSigner.VerifySignature(oldRefreshToken); err != nil {
		m.metrics.TokenVerified(string(RefreshTokenType), resultLabel(err))
		return nil, err
	}
	unverified := &RefreshClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(oldRefreshToken, unverified); err != nil {
		return nil, apperrors.ErrInvalidFormat
	}

	unlock := m.familyLocks.Lock(unverified.FamilyID)
	defer unlock()

	claims, err := m.VerifyRefreshToken(ctx, oldRefreshToken)
	if err != nil {
		return nil, err
	}
	subject, err := resolve(ctx, claims)
	if err != nil {
		return nil, err
	}
	if claims.Subject != subject.UserID {
		return nil, apperrors.ErrSubjectMismatch
	}

	if err := m.Revoke(ctx, claims.ID, expiryOf(claims.RegisteredClaims)); err != nil {
		return nil, err
	}

	pair, err := m.issuePair(ctx, subject, claims.FamilyID)
	if err != nil {
		return nil, err
	}
	m.log.Debug().Str("family_id", claims.FamilyID).Str("subject", subject.UserID).Msg("refresh token rotated")
	return pair, nil
}

// Revoke adds jti to the revocation set until expiresAt. A zero expiresAt
// keeps it for the longest token lifetime. Revoking twice is harmless.
func (m *Manager) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return apperrors.NewValidation("jti", "required")
	}
	if expiresAt.IsZero() {
		expiresAt = m.nowFunc().Add(m.longestExpiry())
	}
	if err := m.store.Revoke(ctx, jti, expiresAt); err != nil {
		return errors.Wrap(err, "[Revoke]")
	}
	m.metrics.TokenRevoked("jti")
	return nil
}

// RevokeToken revokes a signed access or refresh token by its jti.
func (m *Manager) RevokeToken(ctx context.Context, rawToken string) error {
	if m.accessSigner.VerifySignature(rawToken) != nil && m.refreshSigner.VerifySignature(rawToken) != nil {
		return apperrors.ErrInvalidSignature
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return apperrors.ErrInvalidFormat
	}
	return m.Revoke(ctx, claims.ID, expiryOf(*claims))
}

// RevokeFamily permanently rejects every refresh token of familyID.
func (m *Manager) RevokeFamily(ctx context.Context, familyID string) error {
	if familyID == "" {
		return apperrors.NewValidation("family_id", "required")
	}
	if err := m.store.RejectFamily(ctx, familyID, m.maxRotations+1, m.nowFunc()); err != nil {
		return errors.Wrap(err, "[RevokeFamily]")
	}
	m.metrics.FamilyRejected()
	m.log.Info().Str("family_id", familyID).Msg("refresh token family rejected")
	return nil
}

// FamilyOf returns the family record, for diagnostics and tests.
func (m *Manager) FamilyOf(ctx context.Context, familyID string) (*Family, error) {
	return m.store.GetFamily(ctx, familyID)
}

// DecodeUnverified parses an access token payload without checking its
// signature. Use it for expiry probing only, never for authorization.
func (m *Manager) DecodeUnverified(rawToken string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return nil, apperrors.ErrInvalidFormat
	}
	return claims, nil
}

// PruneRevoked drops revocations whose tokens have expired naturally.
func (m *Manager) PruneRevoked(ctx context.Context) (int, error) {
	n, err := m.store.Prune(ctx, m.nowFunc())
	if err != nil {
		return 0, errors.Wrap(err, "[PruneRevoked]")
	}
	return n, nil
}

// parse checks the signature over the raw segments first, so that any change
// to header or payload reports ErrInvalidSignature, then validates claims.
func (m *Manager) parse(rawToken string, signer Signer, claims jwt.Claims) error {
	if strings.TrimSpace(rawToken) == "" {
		return apperrors.ErrInvalidFormat
	}
	if err := signer.VerifySignature(rawToken); err != nil {
		return err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signer.GetSigningMethod().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.nowFunc),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	if _, err := jwt.NewParser(opts...).ParseWithClaims(rawToken, claims, signer.GetVerificationKey); err != nil {
		return mapJWTError(err)
	}
	return nil
}

func (m *Manager) audienceClaim() jwt.ClaimStrings {
	if m.audience == "" {
		return nil
	}
	return jwt.ClaimStrings{m.audience}
}

func (m *Manager) longestExpiry() time.Duration {
	if m.refreshTokenExpiry > m.accessTokenExpiry {
		return m.refreshTokenExpiry
	}
	return m.accessTokenExpiry
}

func mapJWTError(err error) error {
	switch {
	case stderrors.Is(err, jwt.ErrTokenExpired):
		return apperrors.ErrExpired
	case stderrors.Is(err, jwt.ErrTokenNotValidYet), stderrors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return apperrors.ErrNotYetValid
	case stderrors.Is(err, jwt.ErrTokenInvalidIssuer):
		return apperrors.ErrInvalidIssuer
	case stderrors.Is(err, jwt.ErrTokenInvalidAudience):
		return apperrors.ErrInvalidAudience
	case stderrors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.ErrInvalidSignature
	default:
		return apperrors.ErrInvalidFormat
	}
}

func resultLabel(err error) string {
	switch {
	case stderrors.Is(err, apperrors.ErrExpired):
		return "expired"
	case stderrors.Is(err, apperrors.ErrInvalidSignature):
		return "invalid_signature"
	case stderrors.Is(err, apperrors.ErrInvalidIssuer), stderrors.Is(err, apperrors.ErrInvalidAudience):
		return "invalid_claims"
	default:
		return "invalid_format"
	}
}
