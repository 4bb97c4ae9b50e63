package audit

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/ramiradwan/simple-legal-doc/core/bind"
	"github.com/ramiradwan/simple-legal-doc/core/canonical"
	"github.com/ramiradwan/simple-legal-doc/core/pdf"
	"github.com/ramiradwan/simple-legal-doc/core/pdf/pdftest"
	"github.com/ramiradwan/simple-legal-doc/core/seal"
	"github.com/ramiradwan/simple-legal-doc/signer"
)

var payload = []byte(`{"title":"Settlement Agreement","amount":5000}`)

func sealedFixture(t *testing.T, opts ...bind.Option) []byte {
	t.Helper()
	bound, err := bind.NewBinder(opts...).Bind(pdftest.Base(), payload)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	port, err := signer.GenerateLocalSigner("audit test")
	if err != nil {
		t.Fatal(err)
	}
	res, err := seal.NewSealer(port).Seal(context.Background(), bound.Artifact)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	return res.Artifact
}

func findingIDs(r *Result) []string {
	ids := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		ids = append(ids, f.ID)
	}
	return ids
}

func wantIDs(t *testing.T, r *Result, want ...string) {
	t.Helper()
	got := findingIDs(r)
	if len(got) != len(want) {
		t.Fatalf("findings %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("findings %v, want %v", got, want)
		}
	}
}

func TestRun_SealedArtifactClean(t *testing.T) {
	r := New().Run(sealedFixture(t))

	wantIDs(t, r)
	if r.Fatal() {
		t.Error("clean artifact must not be fatal")
	}
	if r.Snapshot.Content["title"] != "Settlement Agreement" {
		t.Errorf("extracted content: %v", r.Snapshot.Content)
	}
	if r.Snapshot.ContentText != "5000\nSettlement Agreement" {
		t.Errorf("content text: %q", r.Snapshot.ContentText)
	}
	if r.Snapshot.Bindings == nil {
		t.Error("sealed artifact must carry bindings")
	}
}

func TestRun_NotAPDF(t *testing.T) {
	r := New().Run([]byte("hello world"))

	wantIDs(t, r, "AIA-CRIT-001")
	if !r.Fatal() {
		t.Error("invalid header must be fatal")
	}
	if r.Snapshot.Doc != nil {
		t.Error("no container snapshot for an unparseable artifact")
	}
}

func TestRun_ConcatenatedStreams(t *testing.T) {
	artifact := append(pdftest.Base(), pdftest.Base()...)
	r := New().Run(artifact)

	wantIDs(t, r, "AIA-CRIT-002")
	if !r.Fatal() {
		t.Error("concatenated streams must be fatal")
	}
}

func TestRun_BoundUnsignedPasses(t *testing.T) {
	bound, err := bind.NewBinder().Bind(pdftest.Base(), payload)
	if err != nil {
		t.Fatal(err)
	}
	r := New().Run(bound.Artifact)

	wantIDs(t, r)
	if r.Fatal() {
		t.Error("a correctly bound unsigned artifact must pass the audit")
	}
}

func TestRun_TamperedAfterSeal(t *testing.T) {
	artifact := append(sealedFixture(t), []byte("\n% post-signing tamper\n")...)
	r := New().Run(artifact)

	wantIDs(t, r, "AIA-MAJ-008")
	if r.Fatal() {
		t.Error("uncovered bytes under a certification signature are not fatal at this stage")
	}
	if !r.RequiresSTV() {
		t.Error("uncovered bytes must request trust verification")
	}
	if r.Findings[0].Severity != "major" || r.Findings[0].Status != "flagged_for_human_review" {
		t.Errorf("AIA-MAJ-008 shape: %+v", r.Findings[0])
	}
}

func TestRun_UncoveredWithoutCertification(t *testing.T) {
	// An approval signature with no DocMDP transform cannot authorize
	// later revisions, so uncovered bytes are terminal.
	doc, err := pdf.Scan(pdftest.Base())
	if err != nil {
		t.Fatal(err)
	}
	u := pdf.NewUpdate(doc)
	u.AddObject([]byte("<< /Type /Sig /Filter /Adobe.PPKLite /SubFilter /ETSI.CAdES.detached /ByteRange [0 16 32 16] /Contents <00> >>"))
	artifact, err := u.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	r := New().Run(artifact)

	wantIDs(t, r, "AIA-CRIT-003")
	if !r.Fatal() {
		t.Error("unauthorized revisions must be fatal")
	}
}

func TestRun_MissingPayload(t *testing.T) {
	r := New().Run(pdftest.Base())

	wantIDs(t, r, "AIA-CRIT-020")
	if !r.Fatal() {
		t.Error("missing payload must be fatal")
	}
}

func TestRun_NonArchivalContainer(t *testing.T) {
	r := New().Run(pdftest.NonArchival())

	wantIDs(t, r, "AIA-MAJ-004", "AIA-CRIT-020")
}

func TestRun_ConformanceMismatch(t *testing.T) {
	r := New().Run(pdftest.WithConformance("2", "A"))

	wantIDs(t, r, "AIA-MAJ-006", "AIA-CRIT-020")
}

func TestRun_SupplementBindingMismatch(t *testing.T) {
	// Well-formed digest of the empty string, which the payload is not.
	wrong, _ := json.Marshal(map[string]string{
		"content_hash": "SHA-256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	})
	artifact := sealedFixture(t, bind.WithSupplement(bind.Attachment{
		Name:     "bindings.json",
		MIMEType: "application/json",
		Data:     wrong,
	}))
	r := New().Run(artifact)

	// The supplement disagrees with the XMP declaration as well as with the
	// recomputed digest, so both findings surface.
	wantIDs(t, r, "AIA-MAJ-009", "AIA-CRIT-034")
	f := r.Findings[1]
	if f.Metadata["declared"] == "" || f.Metadata["computed"] == "" {
		t.Errorf("mismatch finding must carry both digests: %v", f.Metadata)
	}
	if f.Metadata["declared"] == f.Metadata["computed"] {
		t.Error("declared and computed digests must differ")
	}
}

func TestCheckBinding_DeclarationConflict(t *testing.T) {
	// Bind the standard payload so the XMP metadata declares its digest,
	// then hand the audit a supplement declaration that is internally
	// consistent with a different payload. Only the declaration conflict
	// remains.
	bound, err := bind.NewBinder().Bind(pdftest.Base(), payload)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := pdf.Scan(bound.Artifact)
	if err != nil {
		t.Fatal(err)
	}

	raw := []byte(`{"amount":1}`)
	_, digest, err := canonical.Canonicalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	snap := Snapshot{
		Doc:        doc,
		Content:    map[string]any{"amount": json.Number("1")},
		ContentRaw: raw,
		Bindings:   map[string]any{"content_hash": digest.String()},
	}

	got := New().checkBinding(&snap)
	if len(got) != 1 || got[0].ID != "AIA-MAJ-009" {
		t.Fatalf("findings = %+v, want single AIA-MAJ-009", got)
	}
	if got[0].Metadata["supplement"] == "" || got[0].Metadata["xmp"] == "" {
		t.Errorf("conflict finding must carry both declarations: %v", got[0].Metadata)
	}
	if got[0].Metadata["supplement"] == got[0].Metadata["xmp"] {
		t.Error("the two declarations must differ")
	}
}

func TestCheckBinding_Ladder(t *testing.T) {
	_, good, err := canonical.Canonicalize(payload)
	if err != nil {
		t.Fatal(err)
	}
	content := map[string]any{"title": "Settlement Agreement"}

	tests := []struct {
		name   string
		snap   Snapshot
		wantID string
	}{
		{
			name:   "content missing",
			snap:   Snapshot{},
			wantID: "AIA-CRIT-030",
		},
		{
			name:   "bindings missing",
			snap:   Snapshot{Content: content, ContentRaw: payload},
			wantID: "AIA-CRIT-031",
		},
		{
			name: "content hash not a string",
			snap: Snapshot{Content: content, ContentRaw: payload,
				Bindings: map[string]any{"content_hash": 7}},
			wantID: "AIA-CRIT-032",
		},
		{
			name: "unsupported algorithm",
			snap: Snapshot{Content: content, ContentRaw: payload,
				Bindings: map[string]any{"content_hash": "MD5:" + good.Hex}},
			wantID: "AIA-CRIT-035",
		},
		{
			name: "digest mismatch",
			snap: Snapshot{Content: content, ContentRaw: payload,
				Bindings: map[string]any{"content_hash": "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"}},
			wantID: "AIA-CRIT-034",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New().checkBinding(&tt.snap)
			if len(got) != 1 || got[0].ID != tt.wantID {
				t.Errorf("findings = %+v, want single %s", got, tt.wantID)
			}
		})
	}
}

func TestCheckBinding_BareHexMatch(t *testing.T) {
	_, d, err := canonical.Canonicalize(payload)
	if err != nil {
		t.Fatal(err)
	}
	snap := Snapshot{
		Content:    map[string]any{"title": "Settlement Agreement"},
		ContentRaw: payload,
		Bindings:   map[string]any{"content_hash": d.Hex},
	}
	if got := New().checkBinding(&snap); len(got) != 0 {
		t.Errorf("matching bare hex digest must pass, got %+v", got)
	}
}

func TestContentDerivedText_Fallback(t *testing.T) {
	content := map[string]any{"nested": map[string]any{"a": true}}
	got := contentDerivedText(content)
	if got != `{"nested":{"a":true}}` {
		t.Errorf("fallback projection: %q", got)
	}
}

func TestRun_Idempotent(t *testing.T) {
	clean := sealedFixture(t)
	tampered := append(append([]byte(nil), clean...), []byte("\n% post-signing tamper\n")...)

	for name, artifact := range map[string][]byte{"clean": clean, "tampered": tampered} {
		a := New()
		first := a.Run(artifact)
		second := a.Run(artifact)
		if !reflect.DeepEqual(first.Findings, second.Findings) {
			t.Errorf("%s: repeated runs diverge:\n%+v\n%+v", name, first.Findings, second.Findings)
		}
		if first.Fatal() != second.Fatal() || first.RequiresSTV() != second.RequiresSTV() {
			t.Errorf("%s: repeated runs disagree on outcome", name)
		}
	}
}
