package signer

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// signingService is a canned external signer used by client tests.
func signingService(t *testing.T, bits int) (*httptest.Server, *rsa.PrivateKey, *atomic.Int64) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		t.Fatal(err)
	}
	cert := selfSigned(t, key)
	var calls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req signRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		digest, err := base64.StdEncoding.DecodeString(req.Digest)
		if err != nil {
			http.Error(w, "bad digest", http.StatusBadRequest)
			return
		}
		sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest)
		if err != nil {
			http.Error(w, "sign failed", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(signResponse{
			Signature:   base64.StdEncoding.EncodeToString(sig),
			Certificate: base64.StdEncoding.EncodeToString(cert.Raw),
		})
	}))
	t.Cleanup(srv.Close)
	return srv, key, &calls
}

func TestClient_SignDigest(t *testing.T) {
	srv, key, _ := signingService(t, 2048)
	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	digest := sha256.Sum256([]byte("artifact bytes"))
	sig, err := c.SignDigest(context.Background(), digest[:], RS256)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig); err != nil {
		t.Errorf("returned signature does not verify: %v", err)
	}
}

func TestClient_ChainCache(t *testing.T) {
	srv, _, calls := signingService(t, 2048)
	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	cert1, _, err := c.CertificateChain(context.Background())
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	after := calls.Load()

	cert2, _, err := c.CertificateChain(context.Background())
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if calls.Load() != after {
		t.Error("fresh chain must be served from cache without a new request")
	}
	if !cert1.Equal(cert2) {
		t.Error("cached certificate differs")
	}
}

func TestClient_ChainCacheExpiry(t *testing.T) {
	srv, _, calls := signingService(t, 2048)
	c, err := NewClient(srv.URL, WithChainTTL(0))
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := c.CertificateChain(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := calls.Load()
	if _, _, err := c.CertificateChain(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls.Load() == first {
		t.Error("expired chain must be refetched")
	}
}

func TestClient_WeakKeyRejected(t *testing.T) {
	srv, _, _ := signingService(t, 1024)
	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	digest := sha256.Sum256([]byte("x"))
	if _, err := c.SignDigest(context.Background(), digest[:], RS256); err == nil {
		t.Error("a backend presenting a weak key must be refused")
	}
}

func TestClient_BadService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	digest := sha256.Sum256([]byte("x"))
	if _, err := c.SignDigest(context.Background(), digest[:], RS256); err == nil {
		t.Error("HTTP 500 must surface as an error")
	}
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	if _, err := NewClient("::: not a url"); err == nil {
		t.Error("invalid URL must be rejected")
	}
}

func TestClient_Backend(t *testing.T) {
	c, err := NewClient("https://signer.internal:8443")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Backend(); got != "http:signer.internal:8443" {
		t.Errorf("backend: %q", got)
	}
}
