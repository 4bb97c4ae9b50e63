package diff

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ramiradwan/simple-legal-doc/core/findings"
	"github.com/ramiradwan/simple-legal-doc/core/report"
)

func rep(rec report.Recommendation, ids ...string) *report.VerificationReport {
	r := &report.VerificationReport{Recommendation: rec, Findings: []findings.Finding{}}
	for _, id := range ids {
		r.Findings = append(r.Findings, findings.Finding{ID: id})
	}
	return r
}

func TestCompare_Buckets(t *testing.T) {
	before := rep(report.RecommendationDoNotDeliver, "AIA-MAJ-008", "STV-CRIT-002")
	after := rep(report.RecommendationDoNotDeliver, "AIA-MAJ-008", "STV-CRIT-003")

	res := Compare(before, after)
	if len(res.New) != 1 || res.New[0].ID != "STV-CRIT-003" {
		t.Errorf("new: %+v", res.New)
	}
	if len(res.Resolved) != 1 || res.Resolved[0].ID != "STV-CRIT-002" {
		t.Errorf("resolved: %+v", res.Resolved)
	}
	if len(res.Persisting) != 1 || res.Persisting[0].ID != "AIA-MAJ-008" {
		t.Errorf("persisting: %+v", res.Persisting)
	}
}

func TestCompare_LocationDistinguishesFindings(t *testing.T) {
	before := rep(report.RecommendationDeliver)
	before.Findings = []findings.Finding{{ID: "SEM-001", Location: "/amount"}}
	after := rep(report.RecommendationDeliver)
	after.Findings = []findings.Finding{{ID: "SEM-001", Location: "/title"}}

	res := Compare(before, after)
	if len(res.New) != 1 || len(res.Resolved) != 1 || len(res.Persisting) != 0 {
		t.Errorf("same ID at a different location must not match: %+v", res)
	}
}

func TestRegressed(t *testing.T) {
	tests := []struct {
		name   string
		before *report.VerificationReport
		after  *report.VerificationReport
		want   bool
	}{
		{"identical clean", rep(report.RecommendationDeliver), rep(report.RecommendationDeliver), false},
		{"verdict degraded", rep(report.RecommendationDeliver), rep(report.RecommendationDoNotDeliver), true},
		{"verdict improved", rep(report.RecommendationDoNotDeliver), rep(report.RecommendationDeliver), false},
		{"new finding same verdict", rep(report.RecommendationDeliver), rep(report.RecommendationDeliver, "SEM-001"), true},
		{"finding resolved", rep(report.RecommendationDeliver, "SEM-001"), rep(report.RecommendationDeliver), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.before, tt.after).Regressed(); got != tt.want {
				t.Errorf("Regressed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")
	data := `{"meta":{"schema_version":"1.0.0"},"artifact_integrity":{"passed":true,"findings":[]},"findings":[],"recommendation":"deliver"}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	rep, err := LoadReport(path)
	if err != nil {
		t.Fatalf("LoadReport: %v", err)
	}
	if rep.Recommendation != report.RecommendationDeliver {
		t.Errorf("recommendation: %s", rep.Recommendation)
	}
}

func TestLoadReport_RejectsNonReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "other.json")
	if err := os.WriteFile(path, []byte(`{"hello":"world"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadReport(path); err == nil {
		t.Error("expected an error for a non-report JSON file")
	}
}
