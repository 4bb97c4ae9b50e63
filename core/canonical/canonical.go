// Package canonical produces the deterministic byte form of a document
// payload and its content digest. Canonicalization is a pure function:
// payloads with identical logical content serialize to identical bytes on
// every invocation, independent of key order, whitespace, or numeric
// representation in the input.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// Errors reported for payloads that cannot be canonicalized.
var (
	ErrEmptyPayload = errors.New("payload is empty")
	ErrNotObject    = errors.New("payload must be a JSON object at the top level")
)

// Digest is a content digest with algorithm and lowercase hex value.
type Digest struct {
	Algorithm string // "SHA-256"
	Hex       string
}

// String returns the digest in the declared "SHA-256:<hex>" form used in
// binding declarations.
func (d Digest) String() string {
	return d.Algorithm + ":" + d.Hex
}

// Equal reports whether two digests have the same algorithm and value.
func (d Digest) Equal(other Digest) bool {
	return d.Algorithm == other.Algorithm && d.Hex == other.Hex
}

// ComputeDigest computes the SHA-256 digest of data.
func ComputeDigest(data []byte) Digest {
	h := sha256.Sum256(data)
	return Digest{Algorithm: "SHA-256", Hex: hex.EncodeToString(h[:])}
}

// ParseDeclared parses a declared content-hash value. Accepted forms are a
// bare hex digest and "SHA-256:<hex>" with a case-insensitive algorithm
// label. Only SHA-256 is supported.
func ParseDeclared(s string) (Digest, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Digest{}, errors.New("declared content hash is empty")
	}

	algo := "SHA-256"
	hexVal := s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		algo = strings.ToUpper(strings.TrimSpace(s[:i]))
		hexVal = strings.TrimSpace(s[i+1:])
	}

	if algo != "SHA-256" {
		return Digest{}, fmt.Errorf("unsupported digest algorithm: %q", algo)
	}
	if len(hexVal) != sha256.Size*2 {
		return Digest{}, fmt.Errorf("invalid sha256 hex length: got %d, want %d", len(hexVal), sha256.Size*2)
	}
	if _, err := hex.DecodeString(hexVal); err != nil {
		return Digest{}, fmt.Errorf("invalid hex in digest: %w", err)
	}

	return Digest{Algorithm: "SHA-256", Hex: strings.ToLower(hexVal)}, nil
}

// Canonicalize transforms a JSON payload into its RFC 8785 canonical byte
// form and computes the content digest over those bytes. The payload must
// be a JSON object; arrays preserve order, object keys are sorted by the
// byte value of their UTF-8 encoding, and numbers are reduced to a single
// textual form. Invalid JSON (which includes non-finite numbers, since they
// have no JSON representation) is a fatal input error.
func Canonicalize(raw []byte) ([]byte, Digest, error) {
	if len(raw) == 0 {
		return nil, Digest{}, ErrEmptyPayload
	}

	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, Digest{}, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if _, ok := probe.(map[string]any); !ok {
		return nil, Digest{}, ErrNotObject
	}

	canonical, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, Digest{}, fmt.Errorf("canonicalizing payload: %w", err)
	}

	return canonical, ComputeDigest(canonical), nil
}

// CanonicalizeValue marshals a Go value to JSON and canonicalizes the
// result. Convenience for callers holding structured payloads rather than
// raw bytes.
func CanonicalizeValue(v any) ([]byte, Digest, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, Digest{}, fmt.Errorf("encoding payload: %w", err)
	}
	return Canonicalize(raw)
}
