package signer

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultChainTTL    = 15 * time.Minute
	maxResponseSize    = 1 * 1024 * 1024 // 1 MB

	signPath = "/sign"
)

// Client is a SigningPort backed by an external HTTP signing service. The
// service signs digests and returns the signature together with the signer
// certificate chain; the chain is cached so repeated seals do not refetch
// it. Requests are rate limited to protect the upstream HSM.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	chainTTL time.Duration

	mu        sync.Mutex
	cert      *x509.Certificate
	chain     []*x509.Certificate
	fetchedAt time.Time
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client for signing requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit bounds requests per second to the signing service.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithChainTTL sets how long a fetched certificate chain stays fresh.
func WithChainTTL(ttl time.Duration) ClientOption {
	return func(c *Client) { c.chainTTL = ttl }
}

// NewClient creates a signing service client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid signing service URL %q", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		limiter:    rate.NewLimiter(rate.Limit(10), 5),
		chainTTL:   defaultChainTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type signRequest struct {
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`
}

type signResponse struct {
	Signature   string   `json:"signature"`
	Certificate string   `json:"certificate"`
	Chain       []string `json:"chain,omitempty"`
}

// SignDigest posts the digest to the signing service and returns the raw
// signature. The certificate chain carried in the response refreshes the
// local cache as a side effect.
func (c *Client) SignDigest(ctx context.Context, digest []byte, alg Algorithm) ([]byte, error) {
	if _, err := alg.Hash(); err != nil {
		return nil, err
	}
	resp, err := c.doSign(ctx, digest, alg)
	if err != nil {
		return nil, err
	}
	sig, err := base64.StdEncoding.DecodeString(resp.Signature)
	if err != nil {
		return nil, fmt.Errorf("decoding signature: %w", err)
	}
	if len(sig) == 0 {
		return nil, fmt.Errorf("signing service returned an empty signature")
	}
	return sig, nil
}

// CertificateChain returns the cached chain, refreshing it when stale via
// a bootstrap sign over an all-zero digest. The bootstrap signature is
// discarded; only the chain in the response is used.
func (c *Client) CertificateChain(ctx context.Context) (*x509.Certificate, []*x509.Certificate, error) {
	c.mu.Lock()
	if c.cert != nil && time.Since(c.fetchedAt) < c.chainTTL {
		cert, chain := c.cert, c.chain
		c.mu.Unlock()
		return cert, chain, nil
	}
	c.mu.Unlock()

	hash, _ := RS256.Hash()
	if _, err := c.doSign(ctx, make([]byte, hash.Size()), RS256); err != nil {
		return nil, nil, fmt.Errorf("bootstrapping certificate chain: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cert == nil {
		return nil, nil, fmt.Errorf("signing service response carried no certificate")
	}
	return c.cert, c.chain, nil
}

// Backend identifies the adapter by the service host.
func (c *Client) Backend() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "http"
	}
	return "http:" + u.Host
}

func (c *Client) doSign(ctx context.Context, digest []byte, alg Algorithm) (*signResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	body, err := json.Marshal(signRequest{
		Algorithm: string(alg),
		Digest:    base64.StdEncoding.EncodeToString(digest),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+signPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling signing service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signing service returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	var sr signResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	if err := c.cacheChain(&sr); err != nil {
		return nil, err
	}
	return &sr, nil
}

// cacheChain parses the certificate material in a sign response, enforces
// the key strength guardrail, and refreshes the cache.
func (c *Client) cacheChain(sr *signResponse) error {
	if sr.Certificate == "" {
		return nil
	}
	cert, err := parseB64Certificate(sr.Certificate)
	if err != nil {
		return fmt.Errorf("parsing signer certificate: %w", err)
	}
	if err := CheckKeyStrength(cert); err != nil {
		return err
	}
	var chain []*x509.Certificate
	for i, b64 := range sr.Chain {
		ic, err := parseB64Certificate(b64)
		if err != nil {
			return fmt.Errorf("parsing chain certificate %d: %w", i, err)
		}
		chain = append(chain, ic)
	}

	c.mu.Lock()
	c.cert = cert
	c.chain = chain
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func parseB64Certificate(b64 string) (*x509.Certificate, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}
