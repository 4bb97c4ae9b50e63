// Package signer defines the signing and timestamping ports used by the
// sealing pipeline, plus the built-in adapters: an in-process RSA signer
// for development, an HTTP client for external signing services, and an
// RFC 3161 timestamp authority client.
//
// The ports are digest-only: callers hash locally and ship the digest, so
// private key material never needs to cross into this process and payload
// bytes never leave it.
package signer

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"

	// Register the digest implementations behind crypto.Hash.New for every
	// supported algorithm.
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// MinRSAKeyBits is the smallest RSA modulus accepted from any backend.
// Certificates below this strength fail the guardrail before any seal is
// produced.
const MinRSAKeyBits = 2048

// Algorithm names an RSASSA-PKCS1-v1_5 signature scheme by its JOSE
// identifier, matching the wire contract of external signing services.
type Algorithm string

// Supported signing algorithms.
const (
	RS256 Algorithm = "RS256"
	RS384 Algorithm = "RS384"
	RS512 Algorithm = "RS512"
)

// Hash returns the digest function the algorithm is defined over.
func (a Algorithm) Hash() (crypto.Hash, error) {
	switch a {
	case RS256:
		return crypto.SHA256, nil
	case RS384:
		return crypto.SHA384, nil
	case RS512:
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("unsupported signing algorithm %q", a)
	}
}

// SigningPort produces signatures over digests and exposes the signing
// identity. Implementations must be safe for concurrent use.
type SigningPort interface {
	// SignDigest signs a raw digest with the given algorithm.
	SignDigest(ctx context.Context, digest []byte, alg Algorithm) ([]byte, error)

	// CertificateChain returns the signing certificate and any
	// intermediates needed to build a trust path.
	CertificateChain(ctx context.Context) (*x509.Certificate, []*x509.Certificate, error)

	// Backend names the adapter for report and response headers.
	Backend() string
}

// TimestampPort obtains RFC 3161 timestamp tokens. The message imprint is
// computed over message with the given hash.
type TimestampPort interface {
	Timestamp(ctx context.Context, message []byte, hash crypto.Hash) ([]byte, error)
}

// CheckKeyStrength enforces the minimum key size guardrail on a signing
// certificate. Non-RSA keys are rejected because the supported algorithms
// are all RSA schemes.
func CheckKeyStrength(cert *x509.Certificate) error {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("signing certificate key is %T, want RSA", cert.PublicKey)
	}
	if bits := pub.N.BitLen(); bits < MinRSAKeyBits {
		return fmt.Errorf("signing key is %d bits, minimum is %d", bits, MinRSAKeyBits)
	}
	return nil
}

// LocalSigner is an in-process SigningPort backed by an RSA private key.
// Intended for development and tests; production deployments point the
// pipeline at an external service via Client.
type LocalSigner struct {
	key   *rsa.PrivateKey
	cert  *x509.Certificate
	chain []*x509.Certificate
}

// NewLocalSigner wraps an existing key and certificate. The certificate
// must satisfy the key strength guardrail.
func NewLocalSigner(key *rsa.PrivateKey, cert *x509.Certificate, chain ...*x509.Certificate) (*LocalSigner, error) {
	if key == nil || cert == nil {
		return nil, errors.New("key and certificate are required")
	}
	if err := CheckKeyStrength(cert); err != nil {
		return nil, err
	}
	return &LocalSigner{key: key, cert: cert, chain: chain}, nil
}

// GenerateLocalSigner creates a fresh self-signed identity. The
// certificate carries the DocMDP-relevant digital signature key usage and
// is valid for one year.
func GenerateLocalSigner(commonName string) (*LocalSigner, error) {
	key, err := rsa.GenerateKey(rand.Reader, MinRSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating serial: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	return &LocalSigner{key: key, cert: cert}, nil
}

// SignDigest signs digest with RSASSA-PKCS1-v1_5.
func (l *LocalSigner) SignDigest(_ context.Context, digest []byte, alg Algorithm) ([]byte, error) {
	hash, err := alg.Hash()
	if err != nil {
		return nil, err
	}
	if len(digest) != hash.Size() {
		return nil, fmt.Errorf("digest is %d bytes, want %d for %s", len(digest), hash.Size(), alg)
	}
	return rsa.SignPKCS1v15(rand.Reader, l.key, hash, digest)
}

// CertificateChain returns the wrapped identity.
func (l *LocalSigner) CertificateChain(context.Context) (*x509.Certificate, []*x509.Certificate, error) {
	return l.cert, l.chain, nil
}

// Backend identifies the adapter.
func (l *LocalSigner) Backend() string { return "local" }
