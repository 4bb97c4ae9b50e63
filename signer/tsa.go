package signer

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/notaryproject/tspclient-go"
)

// TSAClient is a TimestampPort backed by an RFC 3161 timestamp authority.
type TSAClient struct {
	endpoint   string
	httpClient *http.Client
}

// TSAOption configures a TSAClient.
type TSAOption func(*TSAClient)

// WithTSAHTTPClient sets a custom HTTP client for timestamp requests.
func WithTSAHTTPClient(hc *http.Client) TSAOption {
	return func(t *TSAClient) { t.httpClient = hc }
}

// NewTSAClient creates a timestamp authority client for the given endpoint.
func NewTSAClient(endpoint string, opts ...TSAOption) (*TSAClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid timestamp authority URL %q", endpoint)
	}
	t := &TSAClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Timestamp requests a token whose message imprint covers message under
// the given hash. The returned bytes are the DER TimeStampToken.
func (t *TSAClient) Timestamp(ctx context.Context, message []byte, hash crypto.Hash) ([]byte, error) {
	timestamper, err := tspclient.NewHTTPTimestamper(t.httpClient, t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("creating timestamper: %w", err)
	}
	req, err := tspclient.NewRequest(tspclient.RequestOptions{
		Content:       message,
		HashAlgorithm: hash,
	})
	if err != nil {
		return nil, fmt.Errorf("building timestamp request: %w", err)
	}
	req.CertReq = true

	resp, err := timestamper.Timestamp(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("requesting timestamp: %w", err)
	}
	token := resp.TimestampToken.FullBytes
	if len(token) == 0 {
		return nil, errors.New("timestamp authority returned an empty token")
	}
	return token, nil
}
