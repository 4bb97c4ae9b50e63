package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ramiradwan/simple-legal-doc/core/pdf/pdftest"
)

func TestRun_VersionFlag(t *testing.T) {
	if code := run([]string{"--version"}); code != 0 {
		t.Fatalf("expected exit code 0 for --version, got %d", code)
	}
}

func TestRun_VersionCommand(t *testing.T) {
	if code := run([]string{"version"}); code != 0 {
		t.Fatalf("expected exit code 0 for version command, got %d", code)
	}
}

func TestRun_NoArgs(t *testing.T) {
	if code := run([]string{}); code != 2 {
		t.Fatalf("expected exit code 2 for no args, got %d", code)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	if code := run([]string{"invalid"}); code != 2 {
		t.Fatalf("expected exit code 2 for unknown command, got %d", code)
	}
}

func TestRun_SealNoArtifact(t *testing.T) {
	if code := run([]string{"seal"}); code != 2 {
		t.Fatalf("expected exit code 2 for seal without artifact, got %d", code)
	}
}

func TestRun_SealMissingPayloadFlag(t *testing.T) {
	if code := run([]string{"seal", "artifact.pdf"}); code != 2 {
		t.Fatalf("expected exit code 2 for seal without -payload, got %d", code)
	}
}

func TestRun_AuditNoArtifact(t *testing.T) {
	if code := run([]string{"audit"}); code != 2 {
		t.Fatalf("expected exit code 2 for audit without artifact, got %d", code)
	}
}

// writeFixtures lays out a drop directory with a finalized artifact, its
// content payload, and a config that keeps verification self-contained.
func writeFixtures(t *testing.T) (dir, artifact, payload string) {
	t.Helper()
	dir = t.TempDir()

	artifact = filepath.Join(dir, "agreement.pdf")
	if err := os.WriteFile(artifact, pdftest.Base(), 0o644); err != nil {
		t.Fatal(err)
	}
	payload = filepath.Join(dir, "content.json")
	if err := os.WriteFile(payload, []byte(`{"title":"Settlement Agreement","amount":5000}`), 0o644); err != nil {
		t.Fatal(err)
	}
	config := "verification:\n  stv_disabled: true\n"
	if err := os.WriteFile(filepath.Join(dir, ".sld.yaml"), []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir, artifact, payload
}

func TestRun_SealThenAudit(t *testing.T) {
	dir, artifact, payload := writeFixtures(t)
	sealed := filepath.Join(dir, "agreement.sealed.pdf")

	code := run([]string{"--quiet", "--config", dir, "seal", "-payload", payload, "-out", sealed, artifact})
	if code != 0 {
		t.Fatalf("expected exit code 0 for seal, got %d", code)
	}
	data, err := os.ReadFile(sealed)
	if err != nil {
		t.Fatalf("sealed artifact not written: %v", err)
	}
	if len(data) <= len(pdftest.Base()) {
		t.Error("sealed artifact should grow the input")
	}

	reportPath := filepath.Join(dir, "report.json")
	code = run([]string{"--quiet", "--config", dir, "audit", "-output", reportPath, sealed})
	if code != 0 {
		t.Fatalf("expected exit code 0 for passing audit, got %d", code)
	}

	raw, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var rep map[string]any
	if err := json.Unmarshal(raw, &rep); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if rep["recommendation"] != "deliver" {
		t.Errorf("recommendation: %v", rep["recommendation"])
	}
}

func TestRun_SealDefaultOutputPath(t *testing.T) {
	dir, artifact, payload := writeFixtures(t)

	code := run([]string{"--quiet", "--config", dir, "seal", "-payload", payload, artifact})
	if code != 0 {
		t.Fatalf("expected exit code 0 for seal, got %d", code)
	}
	if _, err := os.Stat(filepath.Join(dir, "agreement.sealed.pdf")); err != nil {
		t.Errorf("default output path not written: %v", err)
	}
}

func TestRun_AuditFailingArtifact(t *testing.T) {
	dir, _, _ := writeFixtures(t)
	bogus := filepath.Join(dir, "bogus.pdf")
	if err := os.WriteFile(bogus, []byte("plain text"), 0o644); err != nil {
		t.Fatal(err)
	}

	code := run([]string{"--quiet", "--config", dir, "audit", bogus})
	if code != 1 {
		t.Fatalf("expected exit code 1 for failing audit, got %d", code)
	}
}

func TestRun_AuditMissingFile(t *testing.T) {
	dir, _, _ := writeFixtures(t)
	code := run([]string{"--quiet", "--config", dir, "audit", filepath.Join(dir, "nope.pdf")})
	if code != 2 {
		t.Fatalf("expected exit code 2 for missing artifact, got %d", code)
	}
}

func TestRun_BindWithoutSealing(t *testing.T) {
	dir, artifact, payload := writeFixtures(t)

	code := run([]string{"--quiet", "--config", dir, "bind", "-payload", payload, artifact})
	if code != 0 {
		t.Fatalf("expected exit code 0 for bind, got %d", code)
	}
	bound := filepath.Join(dir, "agreement.bound.pdf")
	if _, err := os.Stat(bound); err != nil {
		t.Fatalf("bound artifact not written: %v", err)
	}

	// A bound but unsealed artifact passes integrity yet stays unsealed,
	// so the audit exit code is adverse.
	reportPath := filepath.Join(dir, "bound-report.json")
	if code := run([]string{"--quiet", "--config", dir, "audit", "-output", reportPath, bound}); code == 2 {
		t.Fatalf("audit errored on bound artifact")
	}
	raw, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatal(err)
	}
	var rep map[string]any
	if err := json.Unmarshal(raw, &rep); err != nil {
		t.Fatal(err)
	}
	integrity, ok := rep["artifact_integrity"].(map[string]any)
	if !ok || integrity["passed"] != true {
		t.Errorf("bound artifact must pass integrity: %v", rep["artifact_integrity"])
	}
}

func TestRun_BadgeWritesSVG(t *testing.T) {
	dir, artifact, payload := writeFixtures(t)
	sealed := filepath.Join(dir, "agreement.sealed.pdf")
	if code := run([]string{"--quiet", "--config", dir, "seal", "-payload", payload, "-out", sealed, artifact}); code != 0 {
		t.Fatalf("seal exit code %d", code)
	}

	svg := filepath.Join(dir, "seal.svg")
	if code := run([]string{"--quiet", "--config", dir, "badge", "-out", svg, sealed}); code != 0 {
		t.Fatalf("badge exit code %d", code)
	}
	data, err := os.ReadFile(svg)
	if err != nil {
		t.Fatalf("badge not written: %v", err)
	}
	if !strings.Contains(string(data), "deliver") {
		t.Error("badge should render the verdict")
	}
}

func TestRun_DiffExitCodes(t *testing.T) {
	dir := t.TempDir()
	clean := `{"meta":{},"artifact_integrity":{"passed":true,"findings":[]},"findings":[],"recommendation":"deliver"}`
	failed := `{"meta":{},"artifact_integrity":{"passed":false,"findings":[]},"findings":[{"finding_id":"AIA-CRIT-001","severity":"critical"}],"recommendation":"do_not_deliver"}`

	cleanPath := filepath.Join(dir, "clean.json")
	failedPath := filepath.Join(dir, "failed.json")
	for path, data := range map[string]string{cleanPath: clean, failedPath: failed} {
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if code := run([]string{"--quiet", "diff", cleanPath, cleanPath}); code != 0 {
		t.Errorf("unchanged reports: exit code %d, want 0", code)
	}
	if code := run([]string{"--quiet", "diff", cleanPath, failedPath}); code != 1 {
		t.Errorf("regressed reports: exit code %d, want 1", code)
	}
	if code := run([]string{"--quiet", "diff", failedPath, cleanPath}); code != 0 {
		t.Errorf("improved reports: exit code %d, want 0", code)
	}
	if code := run([]string{"--quiet", "diff", cleanPath}); code != 2 {
		t.Errorf("missing argument: exit code %d, want 2", code)
	}
}

func TestRun_SealBadPayload(t *testing.T) {
	dir, artifact, _ := writeFixtures(t)
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	code := run([]string{"--quiet", "--config", dir, "seal", "-payload", bad, artifact})
	if code != 2 {
		t.Fatalf("expected exit code 2 for malformed payload, got %d", code)
	}
}
