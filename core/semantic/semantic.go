// Package semantic is the advisory review stage. It inspects the frozen
// content snapshot the Artifact Integrity Audit produced and emits
// non-authoritative findings about the document's substance.
//
// The stage is strictly advisory: its findings never carry critical
// severity, never gate the pipeline, and a stage failure degrades to an
// empty result instead of failing the verification run.
package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ramiradwan/simple-legal-doc/core/audit"
	"github.com/ramiradwan/simple-legal-doc/core/findings"
)

// Assessor reviews a frozen content snapshot. Implementations must treat
// the snapshot as read-only.
type Assessor interface {
	Assess(ctx context.Context, snap *audit.Snapshot) ([]findings.Finding, error)
}

// Noop is the always-empty Assessor. It satisfies the stage contract for
// deployments that run without an advisory reviewer.
type Noop struct{}

// Assess returns no findings.
func (Noop) Assess(context.Context, *audit.Snapshot) ([]findings.Finding, error) {
	return nil, nil
}

// Role identifies the sender of a message in the review conversation.
type Role string

// Conversation roles.
const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is a single entry in the conversation sent to the model.
type Message struct {
	Role    Role
	Content string
}

// Response holds the model's reply along with token usage metadata.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Provider is the interface for model backends. Implementations must be
// safe for concurrent use.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (*Response, error)
}

// Reviewer is an Assessor backed by a chat-completion Provider.
type Reviewer struct {
	provider Provider
}

// NewReviewer wraps a Provider into the advisory stage contract.
func NewReviewer(p Provider) *Reviewer {
	return &Reviewer{provider: p}
}

// reviewedFinding is the JSON shape the model is instructed to return.
type reviewedFinding struct {
	Category     string `json:"category"`
	Severity     string `json:"severity"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	WhyItMatters string `json:"why_it_matters"`
}

// Assess sends the content projection to the provider and converts the
// reply into advisory findings. Provider or parse failures are returned to
// the caller, which records an empty advisory result.
func (r *Reviewer) Assess(ctx context.Context, snap *audit.Snapshot) ([]findings.Finding, error) {
	if snap == nil || snap.Content == nil {
		return nil, nil
	}

	resp, err := r.provider.Complete(ctx, []Message{
		{Role: RoleSystem, Content: systemPrompt()},
		{Role: RoleUser, Content: formatSnapshot(snap)},
	})
	if err != nil {
		return nil, fmt.Errorf("advisory provider: %w", err)
	}

	var reviewed []reviewedFinding
	if err := json.Unmarshal([]byte(resp.Content), &reviewed); err != nil {
		return nil, fmt.Errorf("invalid JSON from advisory provider: %w", err)
	}

	out := make([]findings.Finding, 0, len(reviewed))
	for i, rf := range reviewed {
		out = append(out, findings.Finding{
			ID:           fmt.Sprintf("SEM-%03d", i+1),
			Source:       findings.SourceSemanticAudit,
			Category:     coerceCategory(rf.Category),
			Severity:     coerceSeverity(rf.Severity),
			Confidence:   findings.ConfidenceLow,
			Status:       findings.StatusOpen,
			Title:        rf.Title,
			Description:  rf.Description,
			WhyItMatters: rf.WhyItMatters,
		})
	}
	return out, nil
}

func systemPrompt() string {
	return `You review the machine-readable content of a sealed legal document.
Report substantive concerns: internal contradictions, missing obligations, ambiguous terms, implausible amounts or dates.
Respond ONLY with a valid JSON array of objects with these fields:
- "category": one of "accuracy", "clarity", "risk", "other"
- "severity": one of "major", "minor", "info"
- "title": concise issue title
- "description": what you observed
- "why_it_matters": the consequence if unaddressed

An empty array is a valid answer. Do not include markdown fences or other text.`
}

func formatSnapshot(snap *audit.Snapshot) string {
	var b strings.Builder
	b.WriteString("Document content (canonical JSON):\n")
	if raw, err := json.Marshal(snap.Content); err == nil {
		b.Write(raw)
	}
	b.WriteString("\n\nText projection:\n")
	b.WriteString(snap.ContentText)
	return b.String()
}

// coerceSeverity clamps the model's severity into the advisory range. The
// advisory stage may never emit a critical finding.
func coerceSeverity(s string) findings.Severity {
	switch findings.Severity(strings.ToLower(s)) {
	case findings.SeverityMajor, findings.SeverityCritical:
		return findings.SeverityMajor
	case findings.SeverityMinor:
		return findings.SeverityMinor
	default:
		return findings.SeverityInfo
	}
}

func coerceCategory(c string) findings.Category {
	switch findings.Category(strings.ToLower(c)) {
	case findings.CategoryAccuracy:
		return findings.CategoryAccuracy
	case findings.CategoryClarity:
		return findings.CategoryClarity
	case findings.CategoryRisk:
		return findings.CategoryRisk
	default:
		return findings.CategoryOther
	}
}
