package signer

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
)

func TestAlgorithmHash(t *testing.T) {
	tests := []struct {
		alg     Algorithm
		want    crypto.Hash
		wantErr bool
	}{
		{RS256, crypto.SHA256, false},
		{RS384, crypto.SHA384, false},
		{RS512, crypto.SHA512, false},
		{Algorithm("ES256"), 0, true},
		{Algorithm(""), 0, true},
	}
	for _, tt := range tests {
		got, err := tt.alg.Hash()
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.alg)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%s: got %v, %v", tt.alg, got, err)
		}
	}
}

func TestLocalSigner_SignAndVerify(t *testing.T) {
	ls, err := GenerateLocalSigner("test signer")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	digest := sha256.Sum256([]byte("payload"))
	sig, err := ls.SignDigest(context.Background(), digest[:], RS256)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cert, _, err := ls.CertificateChain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	pub := cert.PublicKey.(*rsa.PublicKey)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}

	if ls.Backend() != "local" {
		t.Errorf("backend: %q", ls.Backend())
	}
}

func TestLocalSigner_DigestLengthCheck(t *testing.T) {
	ls, err := GenerateLocalSigner("test signer")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ls.SignDigest(context.Background(), []byte("too short"), RS256); err == nil {
		t.Error("mismatched digest length must be rejected")
	}
}

func TestCheckKeyStrength(t *testing.T) {
	weak, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatal(err)
	}
	cert := selfSigned(t, weak)
	if err := CheckKeyStrength(cert); err == nil {
		t.Error("1024-bit key must fail the guardrail")
	}

	if _, err := NewLocalSigner(weak, cert); err == nil {
		t.Error("NewLocalSigner must enforce the guardrail")
	}

	strong, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckKeyStrength(selfSigned(t, strong)); err != nil {
		t.Errorf("2048-bit key should pass: %v", err)
	}
}

func selfSigned(t *testing.T, key *rsa.PrivateKey) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "strength test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return cert
}

func TestNewTSAClient_RejectsBadURL(t *testing.T) {
	if _, err := NewTSAClient("not a url"); err == nil {
		t.Error("invalid TSA URL must be rejected")
	}
	if _, err := NewTSAClient("http://tsa.example.com/tsr"); err != nil {
		t.Errorf("valid URL rejected: %v", err)
	}
}
