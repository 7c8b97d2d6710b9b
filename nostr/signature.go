package nostr

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/pkg/errors"
)

// SignatureVerifier checks an event signature. id and pubkey are 64 hex
// characters and sig 128.
type SignatureVerifier interface {
	VerifySignature(id, pubkey, sig string) (bool, error)
}

var _ SignatureVerifier = SchnorrVerifier{}

// SchnorrVerifier checks BIP-340 signatures over secp256k1.
type SchnorrVerifier struct{}

func (SchnorrVerifier) VerifySignature(id, pubkey, sig string) (bool, error) {
	hash, err := hex.DecodeString(id)
	if err != nil || len(hash) != 32 {
		return false, errors.New("[SchnorrVerifier] id is not 32 bytes of hex")
	}
	pkBytes, err := hex.DecodeString(pubkey)
	if err != nil {
		return false, errors.Wrap(err, "[SchnorrVerifier] pubkey")
	}
	pk, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		// not a point on the curve; cannot verify, so the signature fails
		return false, nil
	}
	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return false, errors.Wrap(err, "[SchnorrVerifier] sig")
	}
	s, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, nil
	}
	return s.Verify(hash, pk), nil
}

// Sign fills in PubKey, ID and Sig for e using key.
func (e *Event) Sign(key *btcec.PrivateKey) error {
	e.PubKey = PublicKeyHex(key)
	e.ID = e.ComputeID()
	hash, err := hex.DecodeString(e.ID)
	if err != nil {
		return errors.Wrap(err, "[Event.Sign] id")
	}
	sig, err := schnorr.Sign(key, hash)
	if err != nil {
		return errors.Wrap(err, "[Event.Sign]")
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// PublicKeyHex returns the x-only public key of key as lowercase hex.
func PublicKeyHex(key *btcec.PrivateKey) string {
	return hex.EncodeToString(schnorr.SerializePubKey(key.PubKey()))
}

// NormalizePubkey lowercases a 64 hex character public key.
func NormalizePubkey(pubkey string) (string, bool) {
	pubkey = strings.ToLower(strings.TrimSpace(pubkey))
	if !isHex(pubkey, 64) {
		return "", false
	}
	return pubkey, true
}
