package bind

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ramiradwan/simple-legal-doc/core/canonical"
	"github.com/ramiradwan/simple-legal-doc/core/pdf"
	"github.com/ramiradwan/simple-legal-doc/core/pdf/pdftest"
)

var samplePayload = []byte(`{"title":"Purchase Agreement","parties":["alice","bob"],"amount":1200}`)

func TestBind(t *testing.T) {
	base := pdftest.Base()
	res, err := NewBinder().Bind(base, samplePayload)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	if !bytes.HasPrefix(res.Artifact, base) {
		t.Fatal("binding must be append-only over the base bytes")
	}

	doc, err := pdf.Scan(res.Artifact)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if doc.RevisionCount() != 2 {
		t.Errorf("bound artifact should have 2 revisions, got %d", doc.RevisionCount())
	}

	ef, ok := doc.EmbeddedFileByRelationship("Data")
	if !ok {
		t.Fatal("bound artifact must carry a /Data associated file")
	}
	if ef.Name != DefaultPayloadName {
		t.Errorf("payload name: got %q, want %q", ef.Name, DefaultPayloadName)
	}
	if !bytes.Equal(ef.Data, res.Canonical) {
		t.Error("embedded payload must be the canonical byte form")
	}

	// The embedded bytes must digest to the declared hash.
	if got := canonical.ComputeDigest(ef.Data); !got.Equal(res.Digest) {
		t.Errorf("embedded payload digest %s, declared %s", got, res.Digest)
	}
}

func TestBind_DeclaresContentHashInXMP(t *testing.T) {
	res, err := NewBinder().Bind(pdftest.Base(), samplePayload)
	if err != nil {
		t.Fatal(err)
	}

	doc, err := pdf.Scan(res.Artifact)
	if err != nil {
		t.Fatal(err)
	}
	info := doc.XMP()
	if !info.Present {
		t.Fatal("bound artifact must keep XMP metadata")
	}
	if info.ContentHash != res.Digest.String() {
		t.Errorf("declared hash %q, want %q", info.ContentHash, res.Digest.String())
	}
	// Archival identification from the base must survive the merge.
	if info.Part != "3" || info.Conformance != "B" {
		t.Errorf("pdfaid identification lost: part=%q conformance=%q", info.Part, info.Conformance)
	}
}

func TestBind_NonArchivalBaseGetsFreshPacket(t *testing.T) {
	res, err := NewBinder().Bind(pdftest.NonArchival(), samplePayload)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := pdf.Scan(res.Artifact)
	if err != nil {
		t.Fatal(err)
	}
	info := doc.XMP()
	if !info.Present || info.ContentHash != res.Digest.String() {
		t.Errorf("fresh packet missing declaration: %+v", info)
	}
	if info.Part != "" {
		t.Errorf("fresh packet must not invent archival identification, got part=%q", info.Part)
	}
}

func TestBind_RejectsRebinding(t *testing.T) {
	res, err := NewBinder().Bind(pdftest.Base(), samplePayload)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewBinder().Bind(res.Artifact, samplePayload); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("rebinding must fail with ErrAlreadyBound, got %v", err)
	}
}

func TestBind_Supplements(t *testing.T) {
	evidence := []byte("witness statement")
	b := NewBinder(WithSupplement(Attachment{
		Name:     "evidence.txt",
		MIMEType: "text/plain",
		Data:     evidence,
	}))

	res, err := b.Bind(pdftest.Base(), samplePayload)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := pdf.Scan(res.Artifact)
	if err != nil {
		t.Fatal(err)
	}

	sup, ok := doc.EmbeddedFileByRelationship("Supplement")
	if !ok {
		t.Fatal("supplement attachment not found")
	}
	if sup.Name != "evidence.txt" || !bytes.Equal(sup.Data, evidence) {
		t.Errorf("supplement mismatch: name=%q data=%q", sup.Name, sup.Data)
	}

	// The payload must still be present and distinct.
	if _, ok := doc.EmbeddedFileByRelationship("Data"); !ok {
		t.Error("payload lost when supplements are attached")
	}
}

func TestBind_InvalidInputs(t *testing.T) {
	if _, err := NewBinder().Bind([]byte("not a pdf"), samplePayload); err == nil {
		t.Error("non-PDF base must be rejected")
	}
	if _, err := NewBinder().Bind(pdftest.Base(), []byte(`[1,2]`)); err == nil {
		t.Error("non-object payload must be rejected")
	}
	if _, err := NewBinder().Bind(pdftest.Base(), nil); err == nil {
		t.Error("empty payload must be rejected")
	}
}

func TestBind_PayloadNameOption(t *testing.T) {
	res, err := NewBinder(WithPayloadName("source.json")).Bind(pdftest.Base(), samplePayload)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := pdf.Scan(res.Artifact)
	if err != nil {
		t.Fatal(err)
	}
	ef, ok := doc.EmbeddedFileByRelationship("Data")
	if !ok || ef.Name != "source.json" {
		t.Errorf("payload name override not honored: %+v", ef)
	}
}
