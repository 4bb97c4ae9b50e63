package core

import (
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ramiradwan/simple-legal-doc/core/seal"
	"github.com/ramiradwan/simple-legal-doc/core/semantic"
	"github.com/ramiradwan/simple-legal-doc/core/trust"
	"github.com/ramiradwan/simple-legal-doc/signer"
)

// BuildSealer assembles the sealing pipeline from configuration. With no
// signing service URL a fresh in-process development identity is generated.
func BuildSealer(cfg *Config, log *slog.Logger) (*seal.Sealer, error) {
	var port signer.SigningPort
	if cfg.Signing.ServiceURL != "" {
		var clientOpts []signer.ClientOption
		if cfg.Signing.RateLimit > 0 {
			clientOpts = append(clientOpts, signer.WithRateLimit(cfg.Signing.RateLimit, int(cfg.Signing.RateLimit)+1))
		}
		c, err := signer.NewClient(cfg.Signing.ServiceURL, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("signing service: %w", err)
		}
		port = c
	} else {
		ls, err := signer.GenerateLocalSigner("simple-legal-doc dev signer")
		if err != nil {
			return nil, fmt.Errorf("development signer: %w", err)
		}
		log.Warn("no signing service configured, using an ephemeral in-process identity")
		port = ls
	}

	opts := []seal.Option{
		seal.WithAlgorithm(signer.Algorithm(cfg.Signing.Algorithm)),
		seal.WithLogger(log),
	}
	if cfg.Timestamp.URL != "" {
		tsa, err := signer.NewTSAClient(cfg.Timestamp.URL)
		if err != nil {
			return nil, fmt.Errorf("timestamp authority: %w", err)
		}
		opts = append(opts, seal.WithTimestampAuthority(tsa))
	}
	if cfg.Revocation.Policy == "downgrade" {
		opts = append(opts, seal.WithRevocationPolicy(seal.RevocationDowngrade))
	}
	return seal.NewSealer(port, opts...), nil
}

// BuildCoordinator assembles the verification pipeline from configuration.
func BuildCoordinator(cfg *Config, log *slog.Logger) (*Coordinator, error) {
	opts := []CoordinatorOption{WithLogger(log)}

	if !cfg.Verification.STVDisabled {
		pool, err := loadTrustRoots(cfg.Verification.TrustRootsPath)
		if err != nil {
			return nil, err
		}
		v, err := trust.NewVerifier(pool, trust.WithLogger(log))
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithTrustVerifier(v))
	}

	if cfg.Advisory.Enabled {
		provOpts := []semantic.OpenAIOption{semantic.WithModel(cfg.Advisory.Model)}
		if key := os.Getenv(cfg.Advisory.APIKeyEnv); key != "" {
			provOpts = append(provOpts, semantic.WithAPIKey(key))
		}
		if cfg.Advisory.BaseURL != "" {
			provOpts = append(provOpts, semantic.WithBaseURL(cfg.Advisory.BaseURL))
		}
		if cfg.Advisory.Timeout != "" {
			d, err := time.ParseDuration(cfg.Advisory.Timeout)
			if err != nil {
				return nil, fmt.Errorf("advisory timeout: %w", err)
			}
			provOpts = append(provOpts, semantic.WithTimeout(d))
		}
		reviewer := semantic.NewReviewer(semantic.NewOpenAIProvider(provOpts...))
		opts = append(opts, WithAssessor(cfg.Advisory.Model, reviewer))
	}

	return NewCoordinator(opts...), nil
}

// loadTrustRoots reads a PEM bundle of trust anchors. A path is required
// when trust verification is enabled; without anchors every verification
// would fail closed but uninformatively.
func loadTrustRoots(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, fmt.Errorf("trust verification is enabled but no trust_roots path is configured")
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trust roots: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
