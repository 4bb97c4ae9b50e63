// Package trust implements Seal Trust Verification (STV), the cryptographic
// authority of the verification pipeline. It validates the certification
// signature mathematically, builds the trust path to the configured anchors,
// verifies the document timestamp of long-term seals, and resolves the
// structural observations the Artifact Integrity Audit flagged for it.
//
// STV is deterministic and authoritative: a failed check is always a
// critical finding, and the stage never consults the advisory layer.
package trust

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"time"

	"github.com/notaryproject/tspclient-go"

	"github.com/ramiradwan/simple-legal-doc/core/cms"
	"github.com/ramiradwan/simple-legal-doc/core/findings"
	"github.com/ramiradwan/simple-legal-doc/core/pdf"
	"github.com/ramiradwan/simple-legal-doc/signer"
)

// Result is the outcome of one trust verification run.
type Result struct {
	// Executed is true when the stage ran, whether or not it succeeded.
	Executed bool

	// SignaturePresent reports whether the artifact carries any signature
	// dictionary at all. False identifies an unsealed artifact.
	SignaturePresent bool

	// Trusted is true only when every check passed.
	Trusted bool

	// Findings holds the critical findings emitted on failure.
	Findings []findings.Finding

	// ResolvedFindingIDs lists audit finding IDs this run resolved.
	ResolvedFindingIDs []string
}

// Verifier runs Seal Trust Verification against a fixed set of trust
// anchors.
type Verifier struct {
	roots *x509.CertPool
	log   *slog.Logger
	now   func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.log = l }
}

// WithClock overrides the validation time source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier returns a Verifier anchored at the given root pool. The pool
// is required; trust can never be established without an anchor.
func NewVerifier(roots *x509.CertPool, opts ...Option) (*Verifier, error) {
	if roots == nil {
		return nil, fmt.Errorf("trust anchor pool is required")
	}
	v := &Verifier{roots: roots, log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Verify runs the full trust pipeline over the artifact. The audit findings
// are consulted only to know which observations need resolution here.
func (v *Verifier) Verify(ctx context.Context, artifact []byte, auditFindings []findings.Finding) *Result {
	res := &Result{Executed: true}

	needsResolution := false
	for _, f := range auditFindings {
		if f.ID == "AIA-MAJ-008" {
			needsResolution = true
		}
	}

	doc, err := pdf.Scan(artifact)
	if err != nil {
		return fail(res, validationFinding("STV-CRIT-005",
			fmt.Sprintf("Structural parsing failed: %v. The artifact may be corrupted.", err)))
	}

	sigs := doc.Signatures()
	if len(sigs) == 0 {
		// An unsigned artifact is not a trust failure to report against,
		// it simply has no seal. The structured flags carry that outcome;
		// the coordinator maps it to an unsealed recommendation.
		v.log.Info("no signature present, nothing to verify")
		return res
	}
	res.SignaturePresent = true

	// The certification signature is always the earliest applied.
	certSig := sigs[0]
	if certSig.Type != "Sig" {
		return fail(res, validationFinding("STV-CRIT-001",
			"The earliest signature in the artifact is not a certification signature. A certification signature is required to establish trust."))
	}

	signed, ok := doc.SignedBytes(certSig)
	if !ok {
		return fail(res, validationFinding("STV-CRIT-006",
			"The certification signature declares byte ranges outside the artifact."))
	}

	token, err := cms.Parse(certSig.Contents)
	if err != nil {
		return fail(res, validationFinding("STV-CRIT-002",
			fmt.Sprintf("No validation status could be produced for the certification signature: the CMS payload is unparsable (%v).", err)))
	}
	if err := token.VerifyDetached(signed); err != nil {
		return fail(res, validationFinding("STV-CRIT-002",
			fmt.Sprintf("Certification signature failed mathematical validation: %v.", err)))
	}
	signerCert, err := token.SignerCertificate()
	if err != nil {
		return fail(res, validationFinding("STV-CRIT-002",
			fmt.Sprintf("Signer certificate could not be recovered from the token: %v.", err)))
	}
	if err := signer.CheckKeyStrength(signerCert); err != nil {
		return fail(res, validationFinding("STV-CRIT-002",
			fmt.Sprintf("Signer key fails the strength guardrail: %v.", err)))
	}
	if _, err := token.VerifyChain(v.roots, v.now()); err != nil {
		return fail(res, validationFinding("STV-CRIT-002",
			fmt.Sprintf("Trust path construction to the configured anchors failed: %v.", err)))
	}

	if ts := documentTimestamp(sigs); ts != nil {
		if err := v.verifyTimestamp(ctx, doc, *ts); err != nil {
			return fail(res, validationFinding("STV-CRIT-002",
				fmt.Sprintf("Long-term timestamp chain verification failed: %v.", err)))
		}
	}

	if needsResolution {
		if v.modificationsWithinDocMDP(doc, certSig) {
			res.ResolvedFindingIDs = append(res.ResolvedFindingIDs, "AIA-MAJ-008")
			v.log.Info("resolved uncovered-bytes observation",
				"docmdp_permission", certSig.DocMDPPerm)
		} else {
			f := validationFinding("STV-CRIT-003",
				"The audit detected bytes outside the last signature's byte ranges, and the post-signing revisions exceed the scope the certification signature's DocMDP permission authorizes.")
			f.Category = findings.CategoryRisk
			f.Title = "Unauthorized post-signing modification"
			f.WhyItMatters = "Document content has been modified beyond the scope the signer authorized."
			return fail(res, f)
		}
	}

	res.Trusted = true
	v.log.Info("seal trust established",
		"signer", signerCert.Subject.CommonName,
		"timestamped", documentTimestamp(sigs) != nil)
	return res
}

// verifyTimestamp checks the RFC 3161 document timestamp: the message
// imprint must match the timestamped byte ranges and the TSA chain must
// anchor in the configured roots.
func (v *Verifier) verifyTimestamp(ctx context.Context, doc *pdf.Document, ts pdf.Signature) error {
	message, ok := doc.SignedBytes(ts)
	if !ok {
		return fmt.Errorf("timestamp byte ranges fall outside the artifact")
	}
	signedToken, err := tspclient.ParseSignedToken(ts.Contents)
	if err != nil {
		return fmt.Errorf("parsing timestamp token: %w", err)
	}
	info, err := signedToken.Info()
	if err != nil {
		return fmt.Errorf("reading timestamp info: %w", err)
	}
	if _, err := info.Validate(message); err != nil {
		return fmt.Errorf("timestamp imprint does not match the document: %w", err)
	}
	if _, err := signedToken.Verify(ctx, x509.VerifyOptions{
		Roots:       v.roots,
		CurrentTime: v.now(),
	}); err != nil {
		return fmt.Errorf("timestamp authority chain is untrusted: %w", err)
	}
	return nil
}

// modificationsWithinDocMDP decides whether the revisions past the last
// signature's coverage stay inside the certification signature's DocMDP
// permission. Permission 1 forbids every change. Permissions 2 and 3 allow
// form filling and signing, so the uncovered tail must consist of complete
// incremental revisions whose objects are limited to signature machinery,
// annotations, and validation material.
func (v *Verifier) modificationsWithinDocMDP(doc *pdf.Document, certSig pdf.Signature) bool {
	if certSig.DocMDPPerm < 2 {
		return false
	}

	last := doc.Signatures()[len(doc.Signatures())-1]
	covered := last.ByteRange[2] + last.ByteRange[3]
	if covered <= 0 || covered > int64(len(doc.Raw)) {
		return false
	}
	tail := doc.Raw[covered:]
	if len(bytes.TrimSpace(tail)) == 0 {
		return true
	}
	if !bytes.Contains(tail, []byte("%%EOF")) {
		return false
	}

	// The signed prefix tells which object numbers existed before the
	// uncovered revisions; redefining one of those shadows signed content.
	pre, err := pdf.Scan(doc.Raw[:covered])
	if err != nil {
		return false
	}
	rev, err := pdf.Scan(doc.Raw)
	if err != nil {
		return false
	}
	for _, o := range rev.Objects {
		if int64(o.Offset) < covered {
			continue
		}
		prior, shadowed := pre.Objects[o.Number]
		var priorObj *pdf.Object
		if shadowed {
			priorObj = &prior
		}
		if !allowedPostSigningObject(o, certSig.DocMDPPerm, priorObj) {
			v.log.Debug("post-signing object exceeds permission",
				"object", o.Number, "permission", certSig.DocMDPPerm)
			return false
		}
	}
	return true
}

// allowedPostSigningObject reports whether a post-signing object is of a
// kind DocMDP form-filling (perm 2) or annotation (perm 3) rules permit.
// prior is the signed definition the object shadows, nil for a new object.
func allowedPostSigningObject(o pdf.Object, perm int64, prior *pdf.Object) bool {
	dict := o.Dict()

	if prior != nil {
		// Redefining a signed object is permitted only for the graph
		// nodes signing machinery must rewrite, and only while the node
		// still points at the same signed content. Everything else, a
		// replaced content stream above all, escalates.
		switch {
		case o.HasName("/Type", "Catalog"):
			return sameRef(dict, prior.Dict(), "/Pages")
		case o.HasName("/Type", "Page"):
			return sameRef(dict, prior.Dict(), "/Contents")
		}
		return false
	}

	switch {
	case o.HasName("/Type", "Sig"), o.HasName("/Type", "DocTimeStamp"):
		return true
	case bytes.Contains(dict, []byte("/DSS")):
		return true
	case bytes.Contains(dict, []byte("/FT")), bytes.Contains(dict, []byte("/AcroForm")):
		return true
	case o.HasName("/Subtype", "Widget"):
		return true
	case o.HasName("/Type", "Annot"):
		return perm >= 3
	case o.HasName("/Type", "XRef"):
		return true
	}
	// CRL and certificate streams referenced from the DSS have no /Type
	// and are always appended under fresh object numbers.
	return bytes.Contains(o.Body, []byte("stream")) || len(bytes.TrimSpace(dict)) == 0
}

// sameRef reports whether two dictionaries carry the same indirect
// reference under key (including both lacking it).
func sameRef(dict, prior []byte, key string) bool {
	cur, curOK := pdf.FindRef(dict, key)
	old, oldOK := pdf.FindRef(prior, key)
	return curOK == oldOK && cur == old
}

func documentTimestamp(sigs []pdf.Signature) *pdf.Signature {
	for i := len(sigs) - 1; i >= 0; i-- {
		if sigs[i].Type == "DocTimeStamp" {
			s := sigs[i]
			return &s
		}
	}
	return nil
}

func fail(res *Result, f findings.Finding) *Result {
	res.Findings = append(res.Findings, f)
	res.Trusted = false
	return res
}

func validationFinding(id, description string) findings.Finding {
	return findings.Finding{
		ID:           id,
		Source:       findings.SourceSealTrust,
		Category:     findings.CategoryCompliance,
		Severity:     findings.SeverityCritical,
		Confidence:   findings.ConfidenceHigh,
		Status:       findings.StatusOpen,
		Title:        "Signature validation failure",
		Description:  description,
		WhyItMatters: "Seal trust in the archival artifact cannot be established. The artifact must not be delivered.",
	}
}
