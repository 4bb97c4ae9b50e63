package report

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ramiradwan/simple-legal-doc/core/findings"
)

func aiaFinding(id string, sev findings.Severity) findings.Finding {
	return findings.Finding{
		ID:       id,
		Source:   findings.SourceArtifactIntegrity,
		Severity: sev,
		Status:   findings.StatusOpen,
	}
}

func TestFlatten_OrderAndResolution(t *testing.T) {
	r := &VerificationReport{
		Integrity: ArtifactIntegrityResult{
			Passed:      true,
			RequiresSTV: true,
			Findings: []findings.Finding{
				aiaFinding("AIA-MAJ-008", findings.SeverityMajor),
			},
		},
		Advisory: []AdvisoryResult{{
			Assessor: "reviewer",
			Executed: true,
			Findings: []findings.Finding{{
				ID:     "SEM-001",
				Source: findings.SourceSemanticAudit,
			}},
		}},
		SealTrust: &SealTrustResult{
			Executed:           true,
			SignaturePresent:   true,
			Trusted:            true,
			ResolvedFindingIDs: []string{"AIA-MAJ-008"},
		},
	}
	r.Flatten()

	if len(r.Findings) != 2 {
		t.Fatalf("flattened %d findings, want 2", len(r.Findings))
	}
	// artifact_integrity sorts before semantic_audit.
	if r.Findings[0].ID != "AIA-MAJ-008" || r.Findings[1].ID != "SEM-001" {
		t.Errorf("order: %s, %s", r.Findings[0].ID, r.Findings[1].ID)
	}
	if r.Findings[0].Status != findings.StatusResolved {
		t.Errorf("resolved finding status: %s", r.Findings[0].Status)
	}
}

func TestFlatten_Deduplicates(t *testing.T) {
	f := aiaFinding("AIA-CRIT-034", findings.SeverityCritical)
	r := &VerificationReport{
		Integrity: ArtifactIntegrityResult{Findings: []findings.Finding{f, f}},
	}
	r.Flatten()
	if len(r.Findings) != 1 {
		t.Errorf("flattened %d findings, want 1", len(r.Findings))
	}
}

func TestJSONReporter_Generate(t *testing.T) {
	r := &VerificationReport{
		Integrity:      ArtifactIntegrityResult{Passed: true},
		Recommendation: RecommendationUnsealed,
	}
	data, err := NewJSONReporter("1.2.3").Generate(r)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["recommendation"] != "unsealed" {
		t.Errorf("recommendation: %v", decoded["recommendation"])
	}
	meta := decoded["meta"].(map[string]any)
	if meta["tool_name"] != "simple-legal-doc" || meta["tool_version"] != "1.2.3" {
		t.Errorf("meta: %v", meta)
	}
	id, _ := meta["audit_id"].(string)
	if id == "" {
		t.Error("every report must carry an audit id")
	}

	second := &VerificationReport{Integrity: ArtifactIntegrityResult{Passed: true}}
	if _, err := NewJSONReporter("1.2.3").Generate(second); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if second.Meta.AuditID == id {
		t.Error("audit ids must be unique per run")
	}
	if !strings.Contains(string(data), `"findings": []`) {
		t.Error("empty finding lists must render as [], not null")
	}
	if strings.Contains(string(data), `"seal_trust"`) {
		t.Error("absent seal trust result must be omitted")
	}
}
