// Package core composes the document pipeline: configuration, the sealing
// flow, and the verification coordinator that sequences the Artifact
// Integrity Audit, the advisory stage, and Seal Trust Verification into one
// VerificationReport.
package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds deployment configuration loaded from .sld.yaml.
type Config struct {
	Signing      SigningSettings      `yaml:"signing"`
	Timestamp    TimestampSettings    `yaml:"timestamp"`
	Revocation   RevocationSettings   `yaml:"revocation"`
	Verification VerificationSettings `yaml:"verification"`
	Advisory     AdvisorySettings     `yaml:"advisory"`
	Server       ServerSettings       `yaml:"server"`
}

// SigningSettings selects the signing backend. An empty ServiceURL selects
// the in-process development signer.
type SigningSettings struct {
	ServiceURL string  `yaml:"service_url"`
	Algorithm  string  `yaml:"algorithm"`  // RS256, RS384, RS512 (default RS256)
	RateLimit  float64 `yaml:"rate_limit"` // requests per second against the service
}

// TimestampSettings configures the RFC 3161 authority. An empty URL
// disables timestamping and produces baseline seals.
type TimestampSettings struct {
	URL string `yaml:"url"`
}

// RevocationSettings controls behavior when revocation material cannot be
// fetched during sealing: "strict" fails the seal, "downgrade" returns a
// baseline seal with an explicit downgrade marker.
type RevocationSettings struct {
	Policy string `yaml:"policy"`
}

// VerificationSettings controls the verifying side.
type VerificationSettings struct {
	// STVDisabled turns Seal Trust Verification off. The coordinator then
	// records a structured not-executed result, never a pass.
	STVDisabled bool `yaml:"stv_disabled"`

	// TrustRootsPath points at a PEM bundle of trust anchors.
	TrustRootsPath string `yaml:"trust_roots"`
}

// AdvisorySettings configures the optional semantic reviewer.
type AdvisorySettings struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"` // env var holding the API key (default OPENAI_API_KEY)
	Model     string `yaml:"model"`       // model name (default gpt-4o)
	BaseURL   string `yaml:"base_url"`    // custom OpenAI-compatible endpoint
	Timeout   string `yaml:"timeout"`     // per-request timeout (e.g. "2m")
}

// ServerSettings configures the HTTP surface.
type ServerSettings struct {
	Addr           string `yaml:"addr"`             // default ":8480"
	MaxUploadBytes int64  `yaml:"max_upload_bytes"` // default 32 MiB
}

// DefaultRevocationPolicy is applied when the config names none. The
// source policy documentation is ambiguous between strict failure and safe
// downgrade; this deployment defaults to strict.
const DefaultRevocationPolicy = "strict"

// LoadConfig reads .sld.yaml from root. A missing file yields a zero-value
// Config with defaults applied and no error.
func LoadConfig(root string) (*Config, error) {
	path := filepath.Join(root, ".sld.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := &Config{}
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Signing.Algorithm == "" {
		c.Signing.Algorithm = "RS256"
	}
	if c.Revocation.Policy == "" {
		c.Revocation.Policy = DefaultRevocationPolicy
	}
	if c.Advisory.APIKeyEnv == "" {
		c.Advisory.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Advisory.Model == "" {
		c.Advisory.Model = "gpt-4o"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8480"
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 32 << 20
	}
}

func (c *Config) validate() error {
	switch c.Revocation.Policy {
	case "", "strict", "downgrade":
	default:
		return fmt.Errorf("revocation policy must be strict or downgrade, got %q", c.Revocation.Policy)
	}
	switch c.Signing.Algorithm {
	case "", "RS256", "RS384", "RS512":
	default:
		return fmt.Errorf("unsupported signing algorithm %q", c.Signing.Algorithm)
	}
	return nil
}
