package token

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
)

// Signer is an interface for signing and verifying JWT tokens
type Signer interface {
	// Sign creates a signed JWT token from claims
	Sign(claims jwt.Claims) (string, error)

	// VerifySignature checks the signature segment of a compact token against
	// its header and payload segments without decoding the payload.
	VerifySignature(rawToken string) error

	// GetVerificationKey returns the key used by the jwt parser
	GetVerificationKey(token *jwt.Token) (any, error)

	// GetSigningMethod returns the JWT signing method used
	GetSigningMethod() jwt.SigningMethod
}

// HMACSigner implements Signer using symmetric HMAC-SHA256
type HMACSigner struct {
	secret []byte
}

var _ Signer = (*HMACSigner)(nil)

// NewHMACSigner creates a new HMAC signer with the given secret
func NewHMACSigner(secret string) *HMACSigner {
	return &HMACSigner{
		secret: []byte(secret),
	}
}

func (h *HMACSigner) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(h.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with HMAC")
	}
	return signedToken, nil
}

func (h *HMACSigner) VerifySignature(rawToken string) error {
	parts := strings.Split(rawToken, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return apperrors.ErrInvalidFormat
	}

	expected, err := jwt.SigningMethodHS256.Sign(parts[0]+"."+parts[1], h.secret)
	if err != nil {
		return errors.Wrap(err, "failed to compute HMAC")
	}

	encoded := base64.RawURLEncoding.EncodeToString(expected)
	if subtle.ConstantTimeCompare([]byte(encoded), []byte(parts[2])) != 1 {
		return apperrors.ErrInvalidSignature
	}
	return nil
}

func (h *HMACSigner) GetVerificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return h.secret, nil
}

func (h *HMACSigner) GetSigningMethod() jwt.SigningMethod {
	return jwt.SigningMethodHS256
}
