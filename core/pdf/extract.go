package pdf

import (
	"bytes"
	"encoding/hex"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// EmbeddedFile is an associated file recovered from a file specification
// dictionary and its embedded-file stream.
type EmbeddedFile struct {
	Name         string
	Relationship string // "Data", "Supplement", or "" when undeclared
	Data         []byte
}

// EmbeddedFiles extracts every embedded file reachable through a file
// specification object. Files are returned in object-number order of their
// filespec, so extraction is deterministic.
func (d *Document) EmbeddedFiles() []EmbeddedFile {
	nums := make([]int, 0, len(d.Objects))
	for n := range d.Objects {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var out []EmbeddedFile
	for _, n := range nums {
		o := d.Objects[n]
		if !o.HasName("/Type", "Filespec") {
			continue
		}
		ef := EmbeddedFile{}
		if name, ok := FindString(o.Dict(), "/UF"); ok {
			ef.Name = name
		} else if name, ok := FindString(o.Dict(), "/F"); ok {
			ef.Name = name
		}
		if rel, ok := FindName(o.Dict(), "/AFRelationship"); ok {
			ef.Relationship = rel
		}

		efIdx := bytes.Index(o.Dict(), []byte("/EF"))
		if efIdx < 0 {
			continue
		}
		streamNum, ok := FindRef(o.Dict()[efIdx:], "/F")
		if !ok {
			continue
		}
		streamObj, ok := d.Object(streamNum)
		if !ok {
			continue
		}
		data, err := streamObj.StreamData()
		if err != nil {
			continue
		}
		ef.Data = data
		out = append(out, ef)
	}
	return out
}

// EmbeddedFileByRelationship returns the first embedded file declaring the
// given association relationship ("Data", "Supplement").
func (d *Document) EmbeddedFileByRelationship(rel string) (EmbeddedFile, bool) {
	for _, ef := range d.EmbeddedFiles() {
		if ef.Relationship == rel {
			return ef, true
		}
	}
	return EmbeddedFile{}, false
}

// Signature is a signature or document-timestamp dictionary found in the
// artifact. Contents holds the DER token with trailing zero padding removed.
type Signature struct {
	ObjectNumber int
	Type         string // "Sig" or "DocTimeStamp"
	SubFilter    string
	ByteRange    [4]int64
	Contents     []byte
	DocMDPPerm   int64 // 0 when no DocMDP transform is attached
}

var byteRangeRE = regexp.MustCompile(`/ByteRange\s*\[\s*(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s*\]`)

// Signatures returns every signature dictionary in the artifact, ordered by
// the byte offset of the signed range end so earlier seals come first.
func (d *Document) Signatures() []Signature {
	var out []Signature
	for _, o := range d.Objects {
		dict := o.Dict()
		if !bytes.Contains(dict, []byte("/ByteRange")) {
			continue
		}
		typ, _ := FindName(dict, "/Type")
		if typ != "Sig" && typ != "DocTimeStamp" {
			continue
		}

		sig := Signature{ObjectNumber: o.Number, Type: typ}
		if sf, ok := FindName(dict, "/SubFilter"); ok {
			sig.SubFilter = sf
		}
		if m := byteRangeRE.FindSubmatch(dict); m != nil {
			for i := 0; i < 4; i++ {
				v, err := strconv.ParseInt(string(m[i+1]), 10, 64)
				if err != nil {
					v = -1
				}
				sig.ByteRange[i] = v
			}
		}
		sig.Contents = contentsHex(dict)
		if bytes.Contains(dict, []byte("/DocMDP")) {
			if p, ok := FindInt(dict, "/P"); ok {
				sig.DocMDPPerm = p
			}
		}
		out = append(out, sig)
	}

	sort.Slice(out, func(i, j int) bool {
		ei := out[i].ByteRange[2] + out[i].ByteRange[3]
		ej := out[j].ByteRange[2] + out[j].ByteRange[3]
		if ei != ej {
			return ei < ej
		}
		return out[i].ObjectNumber < out[j].ObjectNumber
	})
	return out
}

// SignedBytes returns the concatenation of the two byte ranges the
// signature covers, or false when the ranges fall outside the artifact.
func (d *Document) SignedBytes(sig Signature) ([]byte, bool) {
	br := sig.ByteRange
	for _, v := range br {
		if v < 0 {
			return nil, false
		}
	}
	if br[0]+br[1] > int64(len(d.Raw)) || br[2]+br[3] > int64(len(d.Raw)) {
		return nil, false
	}
	out := make([]byte, 0, br[1]+br[3])
	out = append(out, d.Raw[br[0]:br[0]+br[1]]...)
	out = append(out, d.Raw[br[2]:br[2]+br[3]]...)
	return out, true
}

// contentsHex decodes the /Contents hex string and strips trailing zero
// padding bytes reserved by the placeholder.
func contentsHex(dict []byte) []byte {
	idx := bytes.Index(dict, []byte("/Contents"))
	if idx < 0 {
		return nil
	}
	rest := dict[idx+len("/Contents"):]
	open := bytes.IndexByte(rest, '<')
	if open < 0 {
		return nil
	}
	end := bytes.IndexByte(rest[open:], '>')
	if end < 0 {
		return nil
	}
	raw := rest[open+1 : open+end]
	clean := make([]byte, 0, len(raw))
	for _, c := range raw {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			clean = append(clean, c)
		}
	}
	if len(clean)%2 == 1 {
		clean = append(clean, '0')
	}
	der, err := hex.DecodeString(string(clean))
	if err != nil {
		return nil
	}
	return trimDER(der)
}

// trimDER cuts placeholder padding after a DER TLV by reading the outer
// length header. Data that does not look like a definite-length SEQUENCE
// falls back to stripping trailing zero bytes.
func trimDER(b []byte) []byte {
	if len(b) < 2 || b[0] != 0x30 {
		return bytes.TrimRight(b, "\x00")
	}
	l := int(b[1])
	hdr := 2
	if l&0x80 != 0 {
		n := l & 0x7f
		if n == 0 || n > 4 || len(b) < 2+n {
			return bytes.TrimRight(b, "\x00")
		}
		l = 0
		for i := 0; i < n; i++ {
			l = l<<8 | int(b[2+i])
		}
		hdr = 2 + n
	}
	if hdr+l <= len(b) {
		return b[:hdr+l]
	}
	return bytes.TrimRight(b, "\x00")
}

// HasSignatureField reports whether the artifact carries any signature or
// document-timestamp dictionary.
func (d *Document) HasSignatureField() bool {
	return len(d.Signatures()) > 0
}

// XMPInfo is the archival identification state read from the document's
// XMP metadata stream.
type XMPInfo struct {
	Present     bool
	Part        string
	Conformance string
	ContentHash string
}

var (
	xmpElemRE = map[string]*regexp.Regexp{
		"part":        regexp.MustCompile(`<pdfaid:part>\s*([^<\s]+)\s*</pdfaid:part>`),
		"conformance": regexp.MustCompile(`<pdfaid:conformance>\s*([^<\s]+)\s*</pdfaid:conformance>`),
		"contenthash": regexp.MustCompile(`:contentHash>\s*([^<\s]+)\s*<`),
	}
	xmpAttrRE = map[string]*regexp.Regexp{
		"part":        regexp.MustCompile(`pdfaid:part\s*=\s*"([^"]+)"`),
		"conformance": regexp.MustCompile(`pdfaid:conformance\s*=\s*"([^"]+)"`),
		"contenthash": regexp.MustCompile(`:contentHash\s*=\s*"([^"]+)"`),
	}
)

// XMP locates the metadata stream referenced by the catalog and reads the
// archival identification properties. Both element and attribute RDF
// serializations are recognized.
func (d *Document) XMP() XMPInfo {
	cat, ok := d.Catalog()
	if !ok {
		return XMPInfo{}
	}
	metaNum, ok := FindRef(cat.Dict(), "/Metadata")
	if !ok {
		return XMPInfo{}
	}
	meta, ok := d.Object(metaNum)
	if !ok {
		return XMPInfo{}
	}
	xml, err := meta.StreamData()
	if err != nil {
		return XMPInfo{}
	}

	info := XMPInfo{Present: true}
	info.Part = xmpProperty(xml, "part")
	info.Conformance = xmpProperty(xml, "conformance")
	info.ContentHash = xmpProperty(xml, "contenthash")
	return info
}

func xmpProperty(xml []byte, key string) string {
	if m := xmpElemRE[key].FindSubmatch(xml); m != nil {
		return string(m[1])
	}
	if m := xmpAttrRE[key].FindSubmatch(xml); m != nil {
		return string(m[1])
	}
	return ""
}

// MetadataXML returns the raw XMP packet, when present.
func (d *Document) MetadataXML() ([]byte, bool) {
	cat, ok := d.Catalog()
	if !ok {
		return nil, false
	}
	metaNum, ok := FindRef(cat.Dict(), "/Metadata")
	if !ok {
		return nil, false
	}
	meta, ok := d.Object(metaNum)
	if !ok {
		return nil, false
	}
	xml, err := meta.StreamData()
	if err != nil {
		return nil, false
	}
	return xml, true
}

var textShowRE = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*Tj`)

// VisibleText extracts literal strings shown by Tj operators in content
// streams. It is a best-effort projection used only for advisory review,
// never for trust decisions: encoded fonts, kerned arrays, and inline
// images are not handled.
func (d *Document) VisibleText() string {
	nums := make([]int, 0, len(d.Objects))
	for n := range d.Objects {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var parts []string
	for _, n := range nums {
		o := d.Objects[n]
		if !bytes.Contains(o.Body, []byte("stream")) {
			continue
		}
		if typ, ok := FindName(o.Dict(), "/Type"); ok && (typ == "Metadata" || typ == "EmbeddedFile" || typ == "XObject") {
			continue
		}
		data, err := o.StreamData()
		if err != nil || !bytes.Contains(data, []byte("BT")) {
			continue
		}
		for _, m := range textShowRE.FindAllSubmatch(data, -1) {
			parts = append(parts, unescapeLiteral(string(m[1])))
		}
	}
	return strings.Join(parts, "\n")
}

func unescapeLiteral(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
