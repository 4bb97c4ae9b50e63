package cms

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"
)

func testIdentity(t *testing.T) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1912),
		Subject:               pkix.Name{CommonName: "seal test signer"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}
	return key, cert
}

func localSigner(key *rsa.PrivateKey) SignDigestFunc {
	return func(_ context.Context, digest []byte, hash crypto.Hash) ([]byte, error) {
		return rsa.SignPKCS1v15(rand.Reader, key, hash, digest)
	}
}

func buildToken(t *testing.T, content []byte, key *rsa.PrivateKey, cert *x509.Certificate) []byte {
	t.Helper()
	sum := sha256.Sum256(content)
	der, err := BuildDetached(context.Background(), sum[:], crypto.SHA256, cert, nil, localSigner(key))
	if err != nil {
		t.Fatalf("building token: %v", err)
	}
	return der
}

func TestBuildAndVerifyDetached(t *testing.T) {
	key, cert := testIdentity(t)
	content := []byte("signed byte ranges of the artifact")
	der := buildToken(t, content, key, cert)

	parsed, err := Parse(der)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := parsed.VerifyDetached(content); err != nil {
		t.Fatalf("verify: %v", err)
	}

	got, err := parsed.SignerCertificate()
	if err != nil {
		t.Fatalf("signer certificate: %v", err)
	}
	if got.SerialNumber.Cmp(cert.SerialNumber) != 0 {
		t.Errorf("signer serial %s, want %s", got.SerialNumber, cert.SerialNumber)
	}
}

func TestVerifyDetached_WrongContent(t *testing.T) {
	key, cert := testIdentity(t)
	der := buildToken(t, []byte("original content"), key, cert)

	parsed, err := Parse(der)
	if err != nil {
		t.Fatal(err)
	}
	if err := parsed.VerifyDetached([]byte("tampered content")); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("want ErrDigestMismatch, got %v", err)
	}
}

func TestVerifyDetached_TamperedSignature(t *testing.T) {
	key, cert := testIdentity(t)
	content := []byte("content")
	der := buildToken(t, content, key, cert)

	// Flip a bit near the end, inside the signature octets.
	der[len(der)-10] ^= 0x01

	parsed, err := Parse(der)
	if err != nil {
		t.Fatal(err)
	}
	if err := parsed.VerifyDetached(content); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("want ErrSignatureInvalid, got %v", err)
	}
}

func TestParse_ToleratesPlaceholderPadding(t *testing.T) {
	key, cert := testIdentity(t)
	content := []byte("content under a padded placeholder")
	der := buildToken(t, content, key, cert)

	padded := append(der, make([]byte, 64)...)
	parsed, err := Parse(padded)
	if err != nil {
		t.Fatalf("parse with padding: %v", err)
	}
	if err := parsed.VerifyDetached(content); err != nil {
		t.Errorf("verify with padding: %v", err)
	}
}

func TestParse_RejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("definitely not DER")); err == nil {
		t.Error("garbage input must not parse")
	}
}

func TestVerifyChain(t *testing.T) {
	key, cert := testIdentity(t)
	content := []byte("chained content")
	der := buildToken(t, content, key, cert)

	parsed, err := Parse(der)
	if err != nil {
		t.Fatal(err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(cert)
	chains, err := parsed.VerifyChain(roots, time.Now())
	if err != nil {
		t.Fatalf("chain validation: %v", err)
	}
	if len(chains) == 0 {
		t.Error("expected at least one trust path")
	}

	// An empty pool with no matching anchor must fail.
	if _, err := parsed.VerifyChain(x509.NewCertPool(), time.Now()); err == nil {
		t.Error("chain validation must fail without a trust anchor")
	}
}

func TestBuildDetached_RejectsBadDigestLength(t *testing.T) {
	key, cert := testIdentity(t)
	_, err := BuildDetached(context.Background(), []byte("short"), crypto.SHA256, cert, nil, localSigner(key))
	if err == nil {
		t.Error("digest length mismatch must be rejected")
	}
}

func TestBuildDetached_UnsupportedHash(t *testing.T) {
	key, cert := testIdentity(t)
	sum := sha256.Sum256([]byte("x"))
	_, err := BuildDetached(context.Background(), sum[:], crypto.MD5, cert, nil, localSigner(key))
	if err == nil {
		t.Error("MD5 must be rejected")
	}
}
