package nostr

import (
	stderrors "errors"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/internal/metrics"
)

const (
	DefaultMaxAge    = 60 * time.Second
	DefaultMaxFuture = 60 * time.Second
)

// Verifier runs the event verification pipeline: structure, id, timestamp
// window and signature, stopping at the first failure.
type Verifier struct {
	backend   SignatureVerifier
	maxAge    time.Duration
	maxFuture time.Duration
	nowFunc   func() time.Time
	log       zerolog.Logger
	metrics   metrics.Recorder
}

type VerifierOption func(*Verifier)

// WithMaxAge sets how far in the past created_at may be.
func WithMaxAge(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.maxAge = d
	}
}

func WithNowFunc(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.nowFunc = now
	}
}

func WithLogger(log zerolog.Logger) VerifierOption {
	return func(v *Verifier) {
		v.log = log
	}
}

func WithMetrics(r metrics.Recorder) VerifierOption {
	return func(v *Verifier) {
		v.metrics = r
	}
}

// NewVerifier creates a Verifier. A nil backend makes every verification
// fail with ErrNoSignatureBackend.
func NewVerifier(backend SignatureVerifier, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		backend:   backend,
		maxAge:    DefaultMaxAge,
		maxFuture: DefaultMaxFuture,
		nowFunc:   time.Now,
		log:       zerolog.Nop(),
		metrics:   metrics.Noop{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) Verify(e *Event) error {
	err := v.verify(e)
	v.metrics.NostrVerification(verificationResult(err))
	if err != nil {
		pubkey := ""
		if e != nil {
			pubkey = e.PubKey
		}
		v.log.Debug().Err(err).Str("pubkey", pubkey).Msg("nostr event rejected")
	}
	return err
}

func (v *Verifier) verify(e *Event) error {
	if err := checkStructure(e); err != nil {
		return err
	}

	if !strings.EqualFold(e.ComputeID(), e.ID) {
		return apperrors.ErrEventIDMismatch
	}

	now := v.nowFunc()
	created := time.Unix(e.CreatedAt, 0)
	if created.After(now.Add(v.maxFuture)) {
		return apperrors.ErrNotYetValid
	}
	if created.Before(now.Add(-v.maxAge)) {
		return apperrors.ErrExpired
	}

	if v.backend == nil {
		return apperrors.ErrNoSignatureBackend
	}
	ok, err := v.backend.VerifySignature(strings.ToLower(e.ID), strings.ToLower(e.PubKey), strings.ToLower(e.Sig))
	if err != nil {
		return errors.Wrap(apperrors.ErrInvalidSignature, err.Error())
	}
	if !ok {
		return apperrors.ErrInvalidSignature
	}
	return nil
}

func checkStructure(e *Event) error {
	if e == nil {
		return errors.Wrap(apperrors.ErrInvalidEvent, "missing event")
	}
	if !isHex(e.PubKey, 64) {
		return errors.Wrap(apperrors.ErrInvalidEvent, "pubkey must be 64 hex characters")
	}
	if !isHex(e.ID, 64) {
		return errors.Wrap(apperrors.ErrInvalidEvent, "id must be 64 hex characters")
	}
	if !isHex(e.Sig, 128) {
		return errors.Wrap(apperrors.ErrInvalidEvent, "sig must be 128 hex characters")
	}
	if e.CreatedAt <= 0 {
		return errors.Wrap(apperrors.ErrInvalidEvent, "created_at is required")
	}
	if e.Kind < 0 {
		return errors.Wrap(apperrors.ErrInvalidEvent, "kind must not be negative")
	}
	return nil
}

func verificationResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case stderrors.Is(err, apperrors.ErrInvalidEvent):
		return "invalid_event"
	case stderrors.Is(err, apperrors.ErrEventIDMismatch):
		return "id_mismatch"
	case stderrors.Is(err, apperrors.ErrExpired), stderrors.Is(err, apperrors.ErrNotYetValid):
		return "timestamp"
	case stderrors.Is(err, apperrors.ErrNoSignatureBackend):
		return "no_backend"
	default:
		return "invalid_signature"
	}
}
