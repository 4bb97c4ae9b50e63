package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ramiradwan/simple-legal-doc/core/audit"
	"github.com/ramiradwan/simple-legal-doc/core/findings"
	"github.com/ramiradwan/simple-legal-doc/core/report"
	"github.com/ramiradwan/simple-legal-doc/core/semantic"
	"github.com/ramiradwan/simple-legal-doc/core/trust"
)

// Coordinator sequences the verification stages in fixed order: Artifact
// Integrity Audit, advisory review, Seal Trust Verification. It inspects
// only stage-reported outcomes, never content, and it is the sole writer of
// the VerificationReport. Stages never invoke each other.
type Coordinator struct {
	auditor   *audit.Auditor
	assessors []namedAssessor
	verifier  *trust.Verifier
	log       *slog.Logger
}

type namedAssessor struct {
	name     string
	assessor semantic.Assessor
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithAssessor registers an advisory reviewer under a stable name.
// Reviewers run in registration order.
func WithAssessor(name string, a semantic.Assessor) CoordinatorOption {
	return func(c *Coordinator) {
		c.assessors = append(c.assessors, namedAssessor{name: name, assessor: a})
	}
}

// WithTrustVerifier enables Seal Trust Verification. Without it the
// coordinator records a structured not-executed trust result.
func WithTrustVerifier(v *trust.Verifier) CoordinatorOption {
	return func(c *Coordinator) { c.verifier = v }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.log = l }
}

// NewCoordinator returns a Coordinator over the given stages.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{log: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	c.auditor = audit.New(audit.WithLogger(c.log))
	return c
}

// Verify runs the full pipeline over the artifact and returns the report.
//
// Gating invariants: the advisory stage never runs when the audit failed;
// a trust result never appears in a report whose audit failed; advisory
// failure never blocks the report; trust failure hard-fails the
// recommendation without altering the audit's own outcome.
func (c *Coordinator) Verify(ctx context.Context, artifact []byte) *report.VerificationReport {
	rep := &report.VerificationReport{}

	auditRes := c.auditor.Run(artifact)
	rep.Integrity = report.ArtifactIntegrityResult{
		Passed:      !auditRes.Fatal(),
		RequiresSTV: auditRes.RequiresSTV(),
		Findings:    auditRes.Findings,
	}

	if !rep.Integrity.Passed {
		rep.Recommendation = report.RecommendationDoNotDeliver
		rep.Flatten()
		c.log.Info("verification terminal at integrity stage",
			"findings", len(rep.Findings))
		return rep
	}

	for _, na := range c.assessors {
		res := report.AdvisoryResult{Assessor: na.name, Executed: true}
		fs, err := na.assessor.Assess(ctx, &auditRes.Snapshot)
		if err != nil {
			// Advisory failure degrades to an empty result.
			res.Error = err.Error()
			c.log.Warn("advisory reviewer failed", "assessor", na.name, "error", err)
		} else {
			res.Findings = fs
		}
		rep.Advisory = append(rep.Advisory, res)
	}

	if c.verifier == nil {
		rep.SealTrust = &report.SealTrustResult{Executed: false}
		if rep.Integrity.RequiresSTV {
			// Findings only trust verification can resolve stay open, so
			// the artifact cannot be recommended. The gate is its own
			// finding so the consumer can see why delivery was blocked.
			rep.Recommendation = report.RecommendationDoNotDeliver
			rep.Flatten()
			rep.Findings = mergeFinding(rep.Findings, stvRequiredFinding(rep.Integrity.Findings))
			c.log.Warn("structural observations require trust verification, which is disabled")
		} else {
			rep.Recommendation = report.RecommendationDeliver
			rep.Flatten()
		}
		return rep
	}

	trustRes := c.verifier.Verify(ctx, artifact, auditRes.Findings)
	rep.SealTrust = &report.SealTrustResult{
		Executed:           trustRes.Executed,
		SignaturePresent:   trustRes.SignaturePresent,
		Trusted:            trustRes.Trusted,
		Findings:           trustRes.Findings,
		ResolvedFindingIDs: trustRes.ResolvedFindingIDs,
	}

	switch {
	case !trustRes.SignaturePresent:
		rep.Recommendation = report.RecommendationUnsealed
	case trustRes.Trusted:
		rep.Recommendation = report.RecommendationDeliver
	default:
		rep.Recommendation = report.RecommendationDoNotDeliver
	}
	rep.Flatten()

	c.log.Info("verification complete",
		"recommendation", rep.Recommendation,
		"findings", len(rep.Findings))
	return rep
}

// stvRequiredFinding explains a delivery block caused by open structural
// observations while trust verification is disabled.
func stvRequiredFinding(integrity []findings.Finding) findings.Finding {
	n := 0
	for _, f := range integrity {
		if f.RequiresSTV {
			n++
		}
	}
	return findings.Finding{
		ID:          "AIA-CRIT-STV-REQUIRED",
		Source:      findings.SourceArtifactIntegrity,
		Category:    findings.CategoryStructure,
		Severity:    findings.SeverityCritical,
		Confidence:  findings.ConfidenceHigh,
		Status:      findings.StatusOpen,
		Title:       "Seal Trust Verification required but not enabled",
		Description: fmt.Sprintf("%d integrity finding(s) require Seal Trust Verification to resolve, but it is disabled.", n),
		WhyItMatters: "Certain structural observations cannot be classified as authorized or unauthorized " +
			"without cryptographic verification. Delivering a verdict without it would be unsound.",
	}
}

// mergeFinding adds a finding to an already flattened list, preserving the
// deterministic order.
func mergeFinding(flat []findings.Finding, f findings.Finding) []findings.Finding {
	set := findings.NewFindingSet()
	set.AddAll(flat)
	set.Add(f)
	set.SortDeterministic()
	return set.Findings()
}
