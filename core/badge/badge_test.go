package badge

import (
	"strings"
	"testing"

	"github.com/ramiradwan/simple-legal-doc/core/findings"
	"github.com/ramiradwan/simple-legal-doc/core/report"
)

func TestFromReport(t *testing.T) {
	tests := []struct {
		rec       report.Recommendation
		wantColor string
	}{
		{report.RecommendationDeliver, "#4c1"},
		{report.RecommendationUnsealed, "#dfb317"},
		{report.RecommendationDoNotDeliver, "#b60205"},
	}
	for _, tt := range tests {
		rep := &report.VerificationReport{Recommendation: tt.rec}
		res := FromReport(rep, "archival seal")
		if res.Color != tt.wantColor {
			t.Errorf("%s: color %s, want %s", tt.rec, res.Color, tt.wantColor)
		}
		if res.Value != string(tt.rec) {
			t.Errorf("%s: value %s", tt.rec, res.Value)
		}
		if !strings.Contains(res.SVG, string(tt.rec)) {
			t.Errorf("%s: SVG does not render the verdict", tt.rec)
		}
	}
}

func TestCountBySeverity(t *testing.T) {
	ff := []findings.Finding{
		{ID: "a", Severity: findings.SeverityCritical},
		{ID: "b", Severity: findings.SeverityCritical},
		{ID: "c", Severity: findings.SeverityMajor},
	}
	counts := CountBySeverity(ff)
	if counts[findings.SeverityCritical] != 2 || counts[findings.SeverityMajor] != 1 {
		t.Errorf("counts: %v", counts)
	}
}

func TestSeverityBadges(t *testing.T) {
	ff := []findings.Finding{{ID: "a", Severity: findings.SeverityMajor}}
	badges := SeverityBadges(ff, "seal")

	if len(badges) != len(SeverityOrder) {
		t.Fatalf("expected %d badges, got %d", len(SeverityOrder), len(badges))
	}
	maj := badges[findings.SeverityMajor]
	if maj.Value != "1" || maj.Color != SeverityBadgeColors[findings.SeverityMajor] {
		t.Errorf("major badge: %+v", maj)
	}
	crit := badges[findings.SeverityCritical]
	if crit.Value != "0" || crit.Color != "#4c1" {
		t.Errorf("zero-count badge should be green: %+v", crit)
	}
}

func TestGenerateSVG_Dimensions(t *testing.T) {
	svg := GenerateSVG("seal", "deliver", "#4c1")
	if !strings.HasPrefix(svg, "<svg") {
		t.Fatal("not an SVG document")
	}
	if !strings.Contains(svg, `aria-label="seal: deliver"`) {
		t.Error("missing accessible label")
	}
}
