// Package report defines the VerificationReport aggregate and its JSON
// serialization. The report is the single output of a verification run: one
// artifact-integrity result, zero or more advisory results, an optional
// seal-trust result, the flattened finding list, and one delivery
// recommendation.
package report

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ramiradwan/simple-legal-doc/core/findings"
)

// Recommendation is the delivery-readiness verdict of a verification run.
type Recommendation string

// Delivery recommendations.
const (
	// RecommendationDeliver means every authoritative stage passed.
	RecommendationDeliver Recommendation = "deliver"

	// RecommendationDoNotDeliver means an authoritative stage failed.
	RecommendationDoNotDeliver Recommendation = "do_not_deliver"

	// RecommendationUnsealed means integrity checks passed but the
	// artifact carries no seal to trust.
	RecommendationUnsealed Recommendation = "unsealed"
)

// ArtifactIntegrityResult is the outcome of the Artifact Integrity Audit.
type ArtifactIntegrityResult struct {
	Passed      bool               `json:"passed"`
	RequiresSTV bool               `json:"requires_stv,omitempty"`
	Findings    []findings.Finding `json:"findings"`
}

// AdvisoryResult is the outcome of one advisory reviewer. A failed reviewer
// is recorded with Executed true, no findings, and the error text.
type AdvisoryResult struct {
	Assessor string             `json:"assessor"`
	Executed bool               `json:"executed"`
	Findings []findings.Finding `json:"findings"`
	Error    string             `json:"error,omitempty"`
}

// SealTrustResult is the outcome of Seal Trust Verification. Executed is
// false when the stage was disabled or gated off; it is never a silent pass.
type SealTrustResult struct {
	Executed           bool               `json:"executed"`
	SignaturePresent   bool               `json:"signature_present"`
	Trusted            bool               `json:"trusted"`
	Findings           []findings.Finding `json:"findings"`
	ResolvedFindingIDs []string           `json:"resolved_finding_ids,omitempty"`
}

// Meta identifies the report schema, the producing tool, and the run. The
// audit ID makes each generated report traceable in downstream systems.
type Meta struct {
	SchemaVersion string `json:"schema_version"`
	AuditID       string `json:"audit_id"`
	GeneratedAt   string `json:"generated_at"`
	ToolName      string `json:"tool_name"`
	ToolVersion   string `json:"tool_version"`
}

// VerificationReport aggregates every stage result of one verification run.
// Stage results are attached once by the coordinator and never edited; a new
// run produces a new report.
type VerificationReport struct {
	Meta           Meta                    `json:"meta"`
	Integrity      ArtifactIntegrityResult `json:"artifact_integrity"`
	Advisory       []AdvisoryResult        `json:"advisory,omitempty"`
	SealTrust      *SealTrustResult        `json:"seal_trust,omitempty"`
	Findings       []findings.Finding      `json:"findings"`
	Recommendation Recommendation          `json:"recommendation"`
}

// Flatten collects every stage's findings into the report-level list,
// deduplicated and deterministically ordered. Call once after all stage
// results are attached.
func (r *VerificationReport) Flatten() {
	fs := findings.NewFindingSet()
	fs.AddAll(r.Integrity.Findings)
	for _, a := range r.Advisory {
		fs.AddAll(a.Findings)
	}
	var resolved []string
	if r.SealTrust != nil {
		fs.AddAll(r.SealTrust.Findings)
		resolved = r.SealTrust.ResolvedFindingIDs
	}
	fs.Deduplicate()
	fs.SortDeterministic()
	fs.Resolve(resolved)

	r.Findings = fs.Findings()
	if r.Findings == nil {
		r.Findings = []findings.Finding{}
	}
}

// Reporter serializes a VerificationReport into one output format.
type Reporter interface {
	Generate(r *VerificationReport) ([]byte, error)
}

// JSONReporter produces deterministic pretty-printed JSON output.
type JSONReporter struct {
	ToolVersion string
}

// NewJSONReporter returns a JSONReporter embedding the given tool version
// in the report metadata.
func NewJSONReporter(version string) *JSONReporter {
	return &JSONReporter{ToolVersion: version}
}

// Generate stamps the metadata and serializes the report with 2-space
// indentation. Output is stable across runs for the same stage results,
// aside from the AuditID and the GeneratedAt timestamp.
func (j *JSONReporter) Generate(r *VerificationReport) ([]byte, error) {
	r.Meta = Meta{
		SchemaVersion: "1.0.0",
		AuditID:       uuid.NewString(),
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		ToolName:      "simple-legal-doc",
		ToolVersion:   j.ToolVersion,
	}
	if r.Findings == nil {
		r.Findings = []findings.Finding{}
	}
	if r.Integrity.Findings == nil {
		r.Integrity.Findings = []findings.Finding{}
	}
	return json.MarshalIndent(r, "", "  ")
}

// WriteToFile generates the JSON report and writes it to path with 0644
// permissions. Parent directories must already exist.
func (j *JSONReporter) WriteToFile(r *VerificationReport, path string) error {
	data, err := j.Generate(r)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
