// Package audit implements the Artifact Integrity Audit, the first and
// authoritative verification stage. It runs a fixed ladder of deterministic
// checks over the artifact bytes: container and archival structure first,
// then embedded-content extraction, then the cryptographic content binding.
// Each stage can short-circuit the ones after it when its preconditions are
// not met, so every finding is reported against a container the stage could
// actually inspect.
//
// The audit never performs signature verification. Observations it cannot
// resolve on its own, such as bytes outside the last signature's coverage,
// are emitted with RequiresSTV set and handed to Seal Trust Verification.
package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ramiradwan/simple-legal-doc/core/canonical"
	"github.com/ramiradwan/simple-legal-doc/core/findings"
	"github.com/ramiradwan/simple-legal-doc/core/pdf"
)

// Snapshot is the frozen view of the artifact the audit hands to the later
// stages. It is computed exactly once per run; the advisory and trust stages
// read from it instead of re-parsing the artifact.
type Snapshot struct {
	// Doc is the scanned container, nil when the artifact could not be
	// parsed at all.
	Doc *pdf.Document

	// Content is the extracted Document Content payload, nil when
	// extraction failed.
	Content map[string]any

	// ContentRaw holds the embedded payload bytes exactly as stored.
	ContentRaw []byte

	// ContentText is the deterministic text projection of the payload used
	// by the advisory semantic stage.
	ContentText string

	// Bindings is the declared integrity metadata, nil when the artifact
	// declares none.
	Bindings map[string]any
}

// Result is the outcome of one audit run.
type Result struct {
	Findings []findings.Finding
	Snapshot Snapshot
}

// Fatal reports whether the run produced any critical finding. Critical
// findings terminate the pipeline; major findings never do.
func (r *Result) Fatal() bool {
	for _, f := range r.Findings {
		if f.Severity == findings.SeverityCritical {
			return true
		}
	}
	return false
}

// RequiresSTV reports whether any finding needs Seal Trust Verification to
// resolve it.
func (r *Result) RequiresSTV() bool {
	for _, f := range r.Findings {
		if f.RequiresSTV {
			return true
		}
	}
	return false
}

// Auditor runs the Artifact Integrity Audit.
type Auditor struct {
	log *slog.Logger
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Auditor) { a.log = l }
}

// New returns a ready Auditor.
func New(opts ...Option) *Auditor {
	a := &Auditor{log: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run executes the full check ladder over the artifact bytes and returns
// every finding plus the frozen snapshot for the later stages.
func (a *Auditor) Run(artifact []byte) *Result {
	res := &Result{}

	containerFindings, doc := a.checkContainer(artifact)
	res.Findings = append(res.Findings, containerFindings...)
	res.Snapshot.Doc = doc
	if doc == nil || hasCritical(containerFindings) {
		a.log.Info("audit stopped at container stage", "findings", len(res.Findings))
		return res
	}

	extractionFindings := a.extractContent(doc, &res.Snapshot)
	res.Findings = append(res.Findings, extractionFindings...)
	if hasCritical(extractionFindings) {
		a.log.Info("audit stopped at extraction stage", "findings", len(res.Findings))
		return res
	}

	res.Findings = append(res.Findings, a.checkBinding(&res.Snapshot)...)
	a.log.Info("audit complete",
		"findings", len(res.Findings),
		"fatal", res.Fatal(),
		"requires_stv", res.RequiresSTV())
	return res
}

func hasCritical(fs []findings.Finding) bool {
	for _, f := range fs {
		if f.Severity == findings.SeverityCritical {
			return true
		}
	}
	return false
}

// ----------------------------------------------------------------------
// Container and archival structure
// ----------------------------------------------------------------------

func (a *Auditor) checkContainer(artifact []byte) ([]findings.Finding, *pdf.Document) {
	var out []findings.Finding

	if !bytes.HasPrefix(artifact, []byte("%PDF-")) {
		out = append(out, integrityFinding(
			"AIA-CRIT-001", findings.CategoryStructure, findings.SeverityCritical,
			"Invalid PDF header",
			"The artifact does not begin with a %PDF- header and cannot be parsed as a PDF container.",
			"A document that is not a valid PDF container cannot qualify as an archival artifact.",
		))
		return out, nil
	}

	if n := bytes.Count(artifact, []byte("%PDF-")); n > 1 {
		out = append(out, integrityFinding(
			"AIA-CRIT-002", findings.CategoryStructure, findings.SeverityCritical,
			"Concatenated PDF streams detected",
			fmt.Sprintf("Detected %d PDF headers. Concatenated PDF streams are not valid archival artifacts.", n),
			"A valid archival artifact is a single self-contained document. Multiple headers indicate assembly by concatenation rather than proper revision.",
		))
		return out, nil
	}

	doc, err := pdf.Scan(artifact)
	if err != nil {
		out = append(out, integrityFinding(
			"AIA-CRIT-007", findings.CategoryStructure, findings.SeverityCritical,
			"PDF structural parsing failed",
			err.Error(),
			"Structural parsing failure indicates a malformed or corrupted PDF container.",
		))
		return out, nil
	}

	// Incremental revisions before any seal exists are unremarkable: the
	// binding revision itself is one, and integrity of the payload rests
	// on the content-hash check below. Once a signature exists, every
	// byte past its coverage needs an authorization story.
	if doc.HasSignatureField() && !lastSignatureCoversDocument(doc) {
		if certificationPermission(doc) > 0 {
			f := integrityFinding(
				"AIA-MAJ-008", findings.CategoryStructure, findings.SeverityMajor,
				"Uncovered bytes after final signature",
				"The document contains bytes after the last signature's /ByteRange coverage. These may be unauthorized modifications, or revisions the DocMDP certification signature permits. The audit cannot distinguish the two without cryptographic verification.",
				"Bytes outside a signature's /ByteRange are not bound by that signature. Whether they are authorized depends on DocMDP permissions, which only Seal Trust Verification can validate.",
			)
			f.Status = findings.StatusFlaggedReview
			f.RequiresSTV = true
			out = append(out, f)
		} else {
			out = append(out, integrityFinding(
				"AIA-CRIT-003", findings.CategoryStructure, findings.SeverityCritical,
				"Unauthorized incremental updates detected",
				"The document contains revisions outside the last signature's /ByteRange coverage and no DocMDP certification signature that could authorize them.",
				"Modifications after signing that no certification permission covers break the archival integrity guarantee.",
			))
			return out, doc
		}
	}

	out = append(out, a.checkArchivalIdentification(doc)...)
	return out, doc
}

// lastSignatureCoversDocument reports whether the latest signature's byte
// ranges span the whole artifact, leaving only the /Contents gap uncovered.
func lastSignatureCoversDocument(d *pdf.Document) bool {
	sigs := d.Signatures()
	if len(sigs) == 0 {
		return false
	}
	br := sigs[len(sigs)-1].ByteRange
	return br[0] == 0 && br[2]+br[3] == int64(len(d.Raw))
}

// certificationPermission returns the DocMDP permission of the earliest
// signature, or 0 when the artifact carries no certification signature.
func certificationPermission(d *pdf.Document) int64 {
	sigs := d.Signatures()
	if len(sigs) == 0 || sigs[0].Type != "Sig" {
		return 0
	}
	return sigs[0].DocMDPPerm
}

func (a *Auditor) checkArchivalIdentification(doc *pdf.Document) []findings.Finding {
	xmp := doc.XMP()
	if !xmp.Present {
		return []findings.Finding{integrityFinding(
			"AIA-MAJ-004", findings.CategoryCompliance, findings.SeverityMajor,
			"Missing PDF/A identification metadata",
			"No XMP metadata packet was found. PDF/A identification metadata is required for archival artifacts.",
			"Without PDF/A identification metadata, long-term archival compliance cannot be established.",
		)}
	}
	if xmp.Part == "" || xmp.Conformance == "" {
		return []findings.Finding{integrityFinding(
			"AIA-MAJ-005", findings.CategoryCompliance, findings.SeverityMajor,
			"Incomplete PDF/A identification metadata",
			"The XMP metadata does not contain both pdfaid:part and pdfaid:conformance entries.",
			"Incomplete PDF/A metadata prevents verification of archival conformance.",
		)}
	}
	if xmp.Part != "3" || strings.ToUpper(xmp.Conformance) != "B" {
		return []findings.Finding{integrityFinding(
			"AIA-MAJ-006", findings.CategoryCompliance, findings.SeverityMajor,
			"PDF/A conformance mismatch",
			fmt.Sprintf("The document declares part=%s conformance=%s, expected part=3 conformance=B.", xmp.Part, xmp.Conformance),
			"The document may not satisfy the archival requirements of PDF/A-3b.",
		)}
	}
	return nil
}

// ----------------------------------------------------------------------
// Document Content extraction
// ----------------------------------------------------------------------

func (a *Auditor) extractContent(doc *pdf.Document, snap *Snapshot) []findings.Finding {
	var payloads, supplements []pdf.EmbeddedFile
	for _, ef := range doc.EmbeddedFiles() {
		switch ef.Relationship {
		case "Data":
			payloads = append(payloads, ef)
		case "Supplement":
			supplements = append(supplements, ef)
		}
	}

	if len(payloads) != 1 {
		return []findings.Finding{integrityFinding(
			"AIA-CRIT-020", findings.CategoryStructure, findings.SeverityCritical,
			"Embedded Document Content missing or ambiguous",
			fmt.Sprintf("Expected exactly one embedded file with AFRelationship /Data, found %d.", len(payloads)),
			"The Document Content payload is the authoritative machine-readable form of the document. Without exactly one, the artifact has no unambiguous content to verify.",
		)}
	}

	raw := payloads[0].Data
	location := "embedded:" + payloads[0].Name
	if len(bytes.TrimSpace(raw)) == 0 {
		f := integrityFinding(
			"AIA-CRIT-021", findings.CategoryStructure, findings.SeverityCritical,
			"Embedded Document Content is empty",
			"The embedded Document Content file contains no data.",
			"An empty payload carries no verifiable content.",
		)
		f.Location = location
		return []findings.Finding{f}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var probe any
	if err := dec.Decode(&probe); err != nil {
		f := integrityFinding(
			"AIA-CRIT-022", findings.CategoryStructure, findings.SeverityCritical,
			"Embedded Document Content is not valid JSON",
			fmt.Sprintf("Decoding the embedded payload failed: %v.", err),
			"The Document Content payload must be valid JSON to be canonicalized and verified.",
		)
		f.Location = location
		return []findings.Finding{f}
	}
	content, ok := probe.(map[string]any)
	if !ok {
		f := integrityFinding(
			"AIA-CRIT-023", findings.CategoryStructure, findings.SeverityCritical,
			"Embedded Document Content is not a JSON object",
			"The embedded payload decodes to a non-object JSON value.",
			"The content model requires a top-level JSON object; any other shape cannot carry the document's fields.",
		)
		f.Location = location
		return []findings.Finding{f}
	}

	snap.Content = content
	snap.ContentRaw = raw
	snap.ContentText = contentDerivedText(content)
	snap.Bindings = parseBindings(doc, supplements)
	return nil
}

// contentDerivedText projects the payload to deterministic text for the
// advisory stage: scalar values in key order, one per line. Payloads with no
// scalar fields fall back to the canonical JSON serialization.
func contentDerivedText(content map[string]any) string {
	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		switch v := content[k].(type) {
		case string:
			parts = append(parts, v)
		case json.Number:
			parts = append(parts, v.String())
		}
	}
	if text := strings.TrimSpace(strings.Join(parts, "\n")); text != "" {
		return text
	}
	canon, _, err := canonical.CanonicalizeValue(content)
	if err != nil {
		return ""
	}
	return string(canon)
}

// parseBindings recovers the declared integrity metadata. A Supplement
// payload that decodes to a JSON object wins; otherwise the XMP content-hash
// declaration written at binding time is wrapped into the same shape.
func parseBindings(doc *pdf.Document, supplements []pdf.EmbeddedFile) map[string]any {
	for _, s := range supplements {
		var parsed map[string]any
		if err := json.Unmarshal(s.Data, &parsed); err == nil {
			return parsed
		}
	}
	if xmp := doc.XMP(); xmp.ContentHash != "" {
		return map[string]any{"content_hash": xmp.ContentHash}
	}
	return nil
}

// ----------------------------------------------------------------------
// Cryptographic content binding
// ----------------------------------------------------------------------

func (a *Auditor) checkBinding(snap *Snapshot) []findings.Finding {
	if snap.Content == nil {
		return []findings.Finding{integrityFinding(
			"AIA-CRIT-030", findings.CategoryStructure, findings.SeverityCritical,
			"Content payload unavailable for binding verification",
			"No extracted Document Content was available to verify against the declared binding.",
			"The content binding cannot be verified without the content itself.",
		)}
	}

	if snap.Bindings == nil {
		return []findings.Finding{integrityFinding(
			"AIA-CRIT-031", findings.CategoryStructure, findings.SeverityCritical,
			"Integrity bindings missing",
			"The artifact declares no integrity bindings for the Document Content.",
			"Without a declared content hash, nothing ties the embedded payload to the sealed document.",
		)}
	}

	claimed, ok := snap.Bindings["content_hash"].(string)
	if !ok || strings.TrimSpace(claimed) == "" {
		return []findings.Finding{integrityFinding(
			"AIA-CRIT-032", findings.CategoryStructure, findings.SeverityCritical,
			"Declared content hash missing",
			"The bindings do not contain a valid content_hash value.",
			"The content hash is the cryptographic link between payload and seal; a missing declaration leaves the payload unbound.",
		)}
	}

	declared, err := canonical.ParseDeclared(claimed)
	if err != nil {
		return []findings.Finding{integrityFinding(
			"AIA-CRIT-035", findings.CategoryStructure, findings.SeverityCritical,
			"Declared content hash is malformed",
			fmt.Sprintf("The declared content_hash is not in a supported format: %v.", err),
			"Only SHA-256 digests in hex or labeled form are verifiable; anything else cannot be checked.",
		)}
	}

	// A Supplement payload wins as the binding source, but the XMP
	// declaration written at binding time must agree with it. A conflict
	// does not block verification on its own; the recomputed digest below
	// still decides which declaration, if either, is truthful.
	var fs []findings.Finding
	if snap.Doc != nil {
		if xmp := snap.Doc.XMP(); xmp.ContentHash != "" && xmp.ContentHash != claimed {
			x, err := canonical.ParseDeclared(xmp.ContentHash)
			if err != nil || !x.Equal(declared) {
				f := integrityFinding(
					"AIA-MAJ-009", findings.CategoryStructure, findings.SeverityMajor,
					"Binding declarations disagree",
					"The Supplement bindings and the XMP metadata declare different content hashes for the same payload.",
					"Conflicting declarations mean at least one binding record was altered or written incorrectly after binding.",
				)
				f.Metadata = map[string]string{
					"supplement": claimed,
					"xmp":        xmp.ContentHash,
				}
				fs = append(fs, f)
			}
		}
	}

	_, computed, err := canonical.Canonicalize(snap.ContentRaw)
	if err != nil {
		// Invalid JSON was already fatal at extraction; reaching here means
		// the canonical form itself could not be produced.
		if errors.Is(err, canonical.ErrEmptyPayload) || errors.Is(err, canonical.ErrNotObject) {
			err = fmt.Errorf("payload shape changed between extraction and binding: %w", err)
		}
		return append(fs, integrityFinding(
			"AIA-CRIT-033", findings.CategoryStructure, findings.SeverityCritical,
			"Content canonicalization failed",
			err.Error(),
			"The content digest is defined over the canonical byte form; without it the binding cannot be recomputed.",
		))
	}

	if !computed.Equal(declared) {
		f := integrityFinding(
			"AIA-CRIT-034", findings.CategoryStructure, findings.SeverityCritical,
			"Content hash mismatch",
			"The digest of the canonicalized embedded content does not match the declared content_hash.",
			"A mismatched digest means the embedded payload is not the content that was sealed.",
		)
		f.Metadata = map[string]string{
			"declared": declared.String(),
			"computed": computed.String(),
		}
		return append(fs, f)
	}

	return fs
}

func integrityFinding(id string, cat findings.Category, sev findings.Severity, title, desc, why string) findings.Finding {
	return findings.Finding{
		ID:           id,
		Source:       findings.SourceArtifactIntegrity,
		Category:     cat,
		Severity:     sev,
		Confidence:   findings.ConfidenceHigh,
		Status:       findings.StatusOpen,
		Title:        title,
		Description:  desc,
		WhyItMatters: why,
	}
}
