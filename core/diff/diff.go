// Package diff compares two verification reports for the same artifact
// lineage. Re-auditing a sealed document over time can surface drift:
// trust anchors expire, findings get resolved, new observations appear.
// The diff names exactly what changed between two runs.
package diff

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ramiradwan/simple-legal-doc/core/findings"
	"github.com/ramiradwan/simple-legal-doc/core/report"
)

// Result holds the comparison between two verification reports.
type Result struct {
	Before report.Recommendation `json:"before"`
	After  report.Recommendation `json:"after"`

	// New findings appear only in the later report.
	New []findings.Finding `json:"new"`
	// Resolved findings appear only in the earlier report.
	Resolved []findings.Finding `json:"resolved"`
	// Persisting findings appear in both.
	Persisting []findings.Finding `json:"persisting"`
}

// recommendationRank orders verdicts from best to worst.
var recommendationRank = map[report.Recommendation]int{
	report.RecommendationDeliver:      0,
	report.RecommendationUnsealed:     1,
	report.RecommendationDoNotDeliver: 2,
}

// Regressed reports whether the later run is worse than the earlier one:
// new findings appeared or the delivery verdict degraded.
func (r *Result) Regressed() bool {
	if len(r.New) > 0 {
		return true
	}
	return recommendationRank[r.After] > recommendationRank[r.Before]
}

// Compare diffs two verification reports over their flattened finding
// lists. Findings are matched by ID and location; report order is
// preserved within each bucket.
func Compare(before, after *report.VerificationReport) *Result {
	res := &Result{
		Before: before.Recommendation,
		After:  after.Recommendation,
	}

	beforeKeys := make(map[string]struct{}, len(before.Findings))
	for i := range before.Findings {
		beforeKeys[key(before.Findings[i])] = struct{}{}
	}
	afterKeys := make(map[string]struct{}, len(after.Findings))
	for i := range after.Findings {
		afterKeys[key(after.Findings[i])] = struct{}{}
	}

	for _, f := range after.Findings {
		if _, ok := beforeKeys[key(f)]; ok {
			res.Persisting = append(res.Persisting, f)
		} else {
			res.New = append(res.New, f)
		}
	}
	for _, f := range before.Findings {
		if _, ok := afterKeys[key(f)]; !ok {
			res.Resolved = append(res.Resolved, f)
		}
	}
	return res
}

func key(f findings.Finding) string {
	return f.ID + "|" + f.Location
}

// LoadReport reads a verification report previously written by the JSON
// reporter.
func LoadReport(path string) (*report.VerificationReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	var rep report.VerificationReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", path, err)
	}
	if rep.Recommendation == "" {
		return nil, fmt.Errorf("%s is not a verification report", path)
	}
	return &rep, nil
}
