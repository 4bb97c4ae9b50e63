// Package findings defines the canonical finding model shared by every
// verification stage. The Artifact Integrity Audit, the advisory semantic
// stage, and Seal Trust Verification all emit Finding values which are
// collected into a FindingSet for deduplication, sorting, and inclusion in
// the final VerificationReport.
package findings

import (
	"sort"
)

// Severity grades how serious a finding is. The values are ordered from most
// to least severe. Severity is stage-agnostic and comparable across stages.
type Severity string

// Severity level constants ordered from most to least severe.
const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityInfo     Severity = "info"
)

// Confidence expresses how certain the emitting stage is that the finding
// describes a real defect rather than a false positive.
type Confidence string

// Confidence level constants.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Source identifies the verification stage that emitted a finding. The
// source is a trust boundary: deterministic stages (artifact_integrity,
// seal_trust) are authoritative, the semantic source is advisory only.
type Source string

// Stage source constants.
const (
	SourceArtifactIntegrity Source = "artifact_integrity"
	SourceSemanticAudit     Source = "semantic_audit"
	SourceSealTrust         Source = "seal_trust"
)

// Category is a coarse, stable issue taxonomy.
type Category string

// Finding categories.
const (
	CategoryStructure  Category = "structure"
	CategoryCompliance Category = "compliance"
	CategoryRisk       Category = "risk"
	CategoryAccuracy   Category = "accuracy"
	CategoryClarity    Category = "clarity"
	CategoryOther      Category = "other"
)

// Status is the workflow state of a finding.
type Status string

// Finding workflow states.
const (
	StatusOpen          Status = "open"
	StatusFlaggedReview Status = "flagged_for_human_review"
	StatusResolved      Status = "resolved"
)

// Finding is a single immutable observation emitted by a verification stage.
// It is the sole representational unit for stage output across the pipeline.
type Finding struct {
	ID           string            `json:"finding_id"`
	Source       Source            `json:"source"`
	Category     Category          `json:"category"`
	Severity     Severity          `json:"severity"`
	Confidence   Confidence        `json:"confidence"`
	Status       Status            `json:"status"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	WhyItMatters string            `json:"why_it_matters"`
	Location     string            `json:"location,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	// RequiresSTV marks a structural observation the Artifact Integrity
	// Audit cannot resolve on its own (e.g. bytes after the last
	// signature's /ByteRange, which a DocMDP certification signature may
	// authorize). Such findings are non-fatal at the AIA layer; Seal Trust
	// Verification either resolves or escalates them. If STV is disabled
	// while any are present, the coordinator fails the audit explicitly.
	RequiresSTV bool `json:"requires_stv,omitempty"`
}

// FindingSet is an ordered, deduplicated collection of findings. It is the
// structure passed between pipeline stages and flattened into the report.
type FindingSet struct {
	items []Finding
}

// NewFindingSet returns an empty FindingSet ready for use.
func NewFindingSet() *FindingSet {
	return &FindingSet{}
}

// Add appends a finding to the set.
func (fs *FindingSet) Add(f Finding) {
	fs.items = append(fs.items, f)
}

// AddAll appends every finding in the slice, preserving order.
func (fs *FindingSet) AddAll(items []Finding) {
	fs.items = append(fs.items, items...)
}

// Deduplicate removes findings that share the same ID and location, keeping
// the first occurrence. Call after all stages have contributed and before
// producing the report.
func (fs *FindingSet) Deduplicate() {
	seen := make(map[string]struct{}, len(fs.items))
	unique := make([]Finding, 0, len(fs.items))
	for _, f := range fs.items {
		key := f.ID + "\x00" + f.Location
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, f)
	}
	fs.items = unique
}

// SortDeterministic orders findings by Source, then ID, then Location.
// This guarantees stable, reproducible report output regardless of the order
// in which stages emit their results.
func (fs *FindingSet) SortDeterministic() {
	sort.Slice(fs.items, func(i, j int) bool {
		a, b := fs.items[i], fs.items[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Location < b.Location
	})
}

// Resolve marks every finding whose ID is in ids as resolved. Used by the
// coordinator after Seal Trust Verification clears RequiresSTV findings.
func (fs *FindingSet) Resolve(ids []string) {
	if len(ids) == 0 {
		return
	}
	resolved := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		resolved[id] = struct{}{}
	}
	for i := range fs.items {
		if _, ok := resolved[fs.items[i].ID]; ok {
			fs.items[i].Status = StatusResolved
		}
	}
}

// HasCritical reports whether any finding in the set is critical.
func (fs *FindingSet) HasCritical() bool {
	for _, f := range fs.items {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Findings returns the current slice of findings. The caller must not modify
// the returned slice.
func (fs *FindingSet) Findings() []Finding {
	return fs.items
}
