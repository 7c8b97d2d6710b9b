package did

import (
	"fmt"
	"strings"
)

const (
	ContextDIDv1     = "https://www.w3.org/ns/did/v1"
	ContextMultikey  = "https://w3id.org/security/multikey/v1"
	VerificationType = "SchnorrSecp256k1VerificationKey2019"

	ServiceTypeRelay = "NostrRelay"
	ServiceTypeNIP05 = "NIP05Verification"

	keyFragment   = "#key-0"
	relayFragment = "#relays"
	nip05Fragment = "#nip05"
)

// Document is a DID document for a did:nostr identifier.
type Document struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication"`
	AssertionMethod    []string             `json:"assertionMethod"`
	AlsoKnownAs        []string             `json:"alsoKnownAs,omitempty"`
	Service            []Service            `json:"service,omitempty"`
}

type VerificationMethod struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Controller   string `json:"controller"`
	PublicKeyHex string `json:"publicKeyHex"`
}

// Service endpoints are either a single URL or a list of relay URLs.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint any    `json:"serviceEndpoint"`
}

// Options adds optional aliases and services to a generated document.
type Options struct {
	// NIP05 is a verified name@domain identifier.
	NIP05  string
	Relays []string
}

// GenerateDocument builds the DID document for pubkey.
func GenerateDocument(pubkey string, opts Options) (*Document, error) {
	id, err := PubkeyToDID(pubkey)
	if err != nil {
		return nil, err
	}
	keyID := id + keyFragment

	doc := &Document{
		Context: []string{ContextDIDv1, ContextMultikey},
		ID:      id,
		VerificationMethod: []VerificationMethod{{
			ID:           keyID,
			Type:         VerificationType,
			Controller:   id,
			PublicKeyHex: strings.TrimPrefix(id, Prefix),
		}},
		Authentication:  []string{keyID},
		AssertionMethod: []string{keyID},
	}

	if opts.NIP05 != "" {
		doc.AlsoKnownAs = append(doc.AlsoKnownAs, "nip05:"+strings.ToLower(opts.NIP05))
		if endpoint, ok := wellKnownURL("https", opts.NIP05); ok {
			doc.Service = append(doc.Service, Service{
				ID:              id + nip05Fragment,
				Type:            ServiceTypeNIP05,
				ServiceEndpoint: endpoint,
			})
		}
	}
	if relays := cleanRelays(opts.Relays); len(relays) > 0 {
		doc.Service = append(doc.Service, Service{
			ID:              id + relayFragment,
			Type:            ServiceTypeRelay,
			ServiceEndpoint: relays,
		})
	}
	return doc, nil
}

// VerifyDocument lists every way doc fails to describe pubkey. An empty
// result means the document is consistent.
func VerifyDocument(doc *Document, pubkey string) []string {
	if doc == nil {
		return []string{"document is nil"}
	}
	var problems []string

	expected, err := PubkeyToDID(pubkey)
	if err != nil {
		problems = append(problems, fmt.Sprintf("expected public key is invalid: %v", err))
	}
	docKey, err := DIDToPubkey(doc.ID)
	switch {
	case err != nil:
		problems = append(problems, fmt.Sprintf("document id is invalid: %v", err))
	case expected != "" && doc.ID != expected:
		problems = append(problems, fmt.Sprintf("document id %s does not match public key", doc.ID))
	}

	if len(doc.Context) == 0 {
		problems = append(problems, "@context is empty")
	}

	want := strings.TrimPrefix(expected, Prefix)
	if want == "" {
		want = docKey
	}
	found := false
	for _, vm := range doc.VerificationMethod {
		if want != "" && strings.EqualFold(vm.PublicKeyHex, want) {
			found = true
			break
		}
	}
	if !found {
		problems = append(problems, "no verification method matches the public key")
	}

	if len(doc.Authentication) == 0 {
		problems = append(problems, "authentication is empty")
	}
	return problems
}

func cleanRelays(relays []string) []string {
	seen := make(map[string]struct{}, len(relays))
	out := make([]string, 0, len(relays))
	for _, r := range relays {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
