// Package bind implements content binding: embedding the canonical JSON
// payload into a finalized PDF container as a PDF/A-3 associated file and
// recording the content digest in the document's XMP metadata. Binding is
// a single incremental revision over the base document, so the base bytes
// survive verbatim inside the bound artifact.
package bind

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ramiradwan/simple-legal-doc/core/canonical"
	"github.com/ramiradwan/simple-legal-doc/core/pdf"
)

// Errors reported by Bind.
var (
	// ErrAlreadyBound means the base document already carries a /Data
	// associated file. Rebinding would create two competing source-of-truth
	// payloads, so it is refused.
	ErrAlreadyBound = errors.New("document already carries a bound payload")
)

const (
	// DefaultPayloadName is the embedded file name for the canonical payload.
	DefaultPayloadName = "document.json"

	sldNamespace = "https://simple-legal-doc.org/ns/document/1.0/"
)

// Attachment is a supplementary file embedded alongside the payload with
// an /AFRelationship of /Supplement.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Result is the outcome of a successful bind.
type Result struct {
	// Artifact is the bound document: base bytes plus one incremental
	// revision.
	Artifact []byte
	// Canonical is the canonical byte form of the payload as embedded.
	Canonical []byte
	// Digest is the content digest computed over Canonical and declared in
	// the artifact's XMP metadata.
	Digest canonical.Digest
}

// Binder embeds payloads into PDF containers.
type Binder struct {
	payloadName string
	supplements []Attachment
	logger      *slog.Logger
}

// Option configures a Binder.
type Option func(*Binder)

// WithPayloadName overrides the embedded file name for the payload.
func WithPayloadName(name string) Option {
	return func(b *Binder) { b.payloadName = name }
}

// WithSupplement embeds an additional file with a /Supplement relationship.
func WithSupplement(a Attachment) Option {
	return func(b *Binder) { b.supplements = append(b.supplements, a) }
}

// WithLogger sets the logger used for progress output.
func WithLogger(l *slog.Logger) Option {
	return func(b *Binder) { b.logger = l }
}

// NewBinder returns a Binder with the given options applied.
func NewBinder(opts ...Option) *Binder {
	b := &Binder{
		payloadName: DefaultPayloadName,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bind canonicalizes payload, embeds it into base as a /Data associated
// file, and declares the content digest in XMP. The base document must not
// already be bound.
func (b *Binder) Bind(base, payload []byte) (*Result, error) {
	canon, digest, err := canonical.Canonicalize(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing payload: %w", err)
	}

	doc, err := pdf.Scan(base)
	if err != nil {
		return nil, fmt.Errorf("scanning base document: %w", err)
	}
	if _, bound := doc.EmbeddedFileByRelationship("Data"); bound {
		return nil, ErrAlreadyBound
	}
	cat, ok := doc.Catalog()
	if !ok {
		return nil, errors.New("base document has no catalog")
	}
	if bytes.Contains(cat.Dict(), []byte("/AF")) {
		return nil, ErrAlreadyBound
	}

	u := pdf.NewUpdate(doc)

	payloadRef := b.embedFile(u, b.payloadName, "application/json", "Data", canon)
	filespecRefs := []int{payloadRef}
	names := []embeddedName{{name: b.payloadName, ref: payloadRef}}

	for _, a := range b.supplements {
		mime := a.MIMEType
		if mime == "" {
			mime = "application/octet-stream"
		}
		ref := b.embedFile(u, a.Name, mime, "Supplement", a.Data)
		filespecRefs = append(filespecRefs, ref)
		names = append(names, embeddedName{name: a.Name, ref: ref})
	}

	xml, _ := doc.MetadataXML()
	merged := declareContentHash(xml, digest.String())
	metaRef := u.AddObject(pdf.StreamObject("<< /Type /Metadata /Subtype /XML >>", merged, false))

	u.ReplaceObject(cat.Number, boundCatalog(cat.Dict(), filespecRefs, names, metaRef))

	artifact, err := u.Bytes()
	if err != nil {
		return nil, fmt.Errorf("writing binding revision: %w", err)
	}

	b.logger.Debug("payload bound",
		"content_hash", digest.String(),
		"payload_bytes", len(canon),
		"supplements", len(b.supplements))

	return &Result{Artifact: artifact, Canonical: canon, Digest: digest}, nil
}

type embeddedName struct {
	name string
	ref  int
}

// embedFile adds the embedded-file stream and its file specification,
// returning the filespec object number.
func (b *Binder) embedFile(u *pdf.Update, name, mime, relationship string, data []byte) int {
	streamDict := fmt.Sprintf("<< /Type /EmbeddedFile /Subtype /%s /Params << /Size %d >> >>",
		pdf.NameEscape(mime), len(data))
	streamRef := u.AddObject(pdf.StreamObject(streamDict, data, true))

	escaped := pdf.EscapeString(name)
	filespec := fmt.Sprintf(
		"<< /Type /Filespec /F (%s) /UF (%s) /AFRelationship /%s /Desc (%s) /EF << /F %d 0 R >> >>",
		escaped, escaped, relationship, relationship, streamRef)
	return u.AddObject([]byte(filespec))
}

// boundCatalog extends the catalog with /AF, the embedded-files name tree,
// and the new metadata reference.
func boundCatalog(dict []byte, filespecRefs []int, names []embeddedName, metaRef int) []byte {
	var af bytes.Buffer
	af.WriteString("/AF [")
	for i, ref := range filespecRefs {
		if i > 0 {
			af.WriteByte(' ')
		}
		fmt.Fprintf(&af, "%d 0 R", ref)
	}
	af.WriteByte(']')

	var tree bytes.Buffer
	tree.WriteString("/Names << /EmbeddedFiles << /Names [")
	for i, n := range names {
		if i > 0 {
			tree.WriteByte(' ')
		}
		fmt.Fprintf(&tree, "(%s) %d 0 R", pdf.EscapeString(n.name), n.ref)
	}
	tree.WriteString("] >> >>")

	out := pdf.DictAppend(dict, af.String())
	out = pdf.DictAppend(out, tree.String())
	return pdf.DictSetRef(out, "/Metadata", metaRef)
}

const freshXMP = `<?xpacket begin="" id="W5M0MpCehiHzreSzNTczkc9d"?>
<x:xmpmeta xmlns:x="adobe:ns:meta/">
 <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
 </rdf:RDF>
</x:xmpmeta>
<?xpacket end="w"?>`

// declareContentHash inserts the content-hash declaration into an XMP
// packet, preserving every existing property. A document without metadata
// gets a fresh packet holding only the declaration.
func declareContentHash(xml []byte, declared string) []byte {
	if len(xml) == 0 {
		xml = []byte(freshXMP)
	}
	decl := fmt.Sprintf(
		"<rdf:Description rdf:about=\"\" xmlns:sld=\"%s\">\n   <sld:contentHash>%s</sld:contentHash>\n  </rdf:Description>\n ",
		sldNamespace, declared)

	closing := []byte("</rdf:RDF>")
	i := bytes.Index(xml, closing)
	if i < 0 {
		// Not RDF at all; replace wholesale rather than emit broken XML.
		return declareContentHash(nil, declared)
	}
	out := make([]byte, 0, len(xml)+len(decl))
	out = append(out, xml[:i]...)
	out = append(out, " "...)
	out = append(out, decl...)
	out = append(out, xml[i:]...)
	return out
}
