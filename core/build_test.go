package core

import (
	"context"
	"encoding/pem"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ramiradwan/simple-legal-doc/signer"
)

func TestBuildSealer_DevIdentity(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s, err := BuildSealer(cfg, slog.Default())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	res, err := s.Seal(context.Background(), boundFixture(t))
	if err != nil {
		t.Fatalf("sealing with the built pipeline: %v", err)
	}
	if res.Backend != "local" {
		t.Errorf("backend: %s", res.Backend)
	}
}

func TestBuildCoordinator_RequiresRootsWhenSTVEnabled(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := BuildCoordinator(cfg, slog.Default()); err == nil {
		t.Error("enabled trust verification without anchors must be refused")
	}
}

func TestBuildCoordinator_LoadsRoots(t *testing.T) {
	port, err := signer.GenerateLocalSigner("build test")
	if err != nil {
		t.Fatal(err)
	}
	cert, _, err := port.CertificateChain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "roots.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Verification.TrustRootsPath = path
	if _, err := BuildCoordinator(cfg, slog.Default()); err != nil {
		t.Fatalf("build: %v", err)
	}
}

func TestBuildCoordinator_STVDisabled(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg.Verification.STVDisabled = true
	c, err := BuildCoordinator(cfg, slog.Default())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if c.verifier != nil {
		t.Error("disabled trust verification must not construct a verifier")
	}
}
