// Package pdf is a minimal, append-only PDF toolkit. It scans a finalized
// artifact into an object map, exposes the structures the trust protocol
// needs (embedded associated files, signature dictionaries, XMP
// identification metadata, revision boundaries), and writes incremental
// revisions that never alter previously written bytes.
//
// It is deliberately not a general PDF library: rendering, fonts, page
// layout, and full object-graph semantics are out of scope. The toolkit
// covers exactly the container surface that content binding, incremental
// sealing, and the integrity audit operate on.
package pdf

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"sync"
)

// ErrNotPDF is returned by Scan when the input lacks a PDF header.
var ErrNotPDF = errors.New("missing %PDF- header")

// Object is a single indirect object: its number, generation, byte offset
// of the "N G obj" keyword, and the raw body between "obj" and "endobj".
type Object struct {
	Number     int
	Generation int
	Offset     int
	Body       []byte
}

// Document is the scanned view of an artifact's bytes. Later definitions of
// an object number shadow earlier ones, matching incremental-update
// resolution order.
type Document struct {
	Raw        []byte
	Objects    map[int]Object
	MaxObject  int
	RootRef    int
	StartXref  int
	EOFOffsets []int // end offset (exclusive) of each %%EOF marker
}

var (
	objHeaderRE = regexp.MustCompile(`(\d+)\s+(\d+)\s+obj\b`)
	rootRefRE   = regexp.MustCompile(`/Root\s+(\d+)\s+\d+\s+R`)
	startXrefRE = regexp.MustCompile(`startxref\s+(\d+)`)
)

// Scan parses artifact bytes into a Document. It is tolerant by design: a
// damaged cross-reference table does not prevent scanning, because objects
// are located by their "N G obj" keywords rather than through xref offsets.
// Scan never modifies its input.
func Scan(b []byte) (*Document, error) {
	if !bytes.HasPrefix(b, []byte("%PDF-")) {
		return nil, ErrNotPDF
	}

	d := &Document{
		Raw:     b,
		Objects: make(map[int]Object),
	}

	for _, loc := range objHeaderRE.FindAllSubmatchIndex(b, -1) {
		num, err := strconv.Atoi(string(b[loc[2]:loc[3]]))
		if err != nil {
			continue
		}
		gen, err := strconv.Atoi(string(b[loc[4]:loc[5]]))
		if err != nil {
			continue
		}

		bodyStart := loc[1]
		end := indexEndobj(b, bodyStart)
		if end < 0 {
			continue
		}

		// Later definitions shadow earlier ones.
		if prev, ok := d.Objects[num]; !ok || loc[0] > prev.Offset {
			d.Objects[num] = Object{
				Number:     num,
				Generation: gen,
				Offset:     loc[0],
				Body:       bytes.TrimSpace(b[bodyStart:end]),
			}
		}
		if num > d.MaxObject {
			d.MaxObject = num
		}
	}

	if m := lastSubmatch(rootRefRE, b); m != nil {
		d.RootRef, _ = strconv.Atoi(string(m[1]))
	}
	if m := lastSubmatch(startXrefRE, b); m != nil {
		d.StartXref, _ = strconv.Atoi(string(m[1]))
	}

	for i := 0; ; {
		j := bytes.Index(b[i:], []byte("%%EOF"))
		if j < 0 {
			break
		}
		end := i + j + len("%%EOF")
		// Consume one trailing line break if present.
		if end < len(b) && b[end] == '\r' {
			end++
		}
		if end < len(b) && b[end] == '\n' {
			end++
		}
		d.EOFOffsets = append(d.EOFOffsets, end)
		i = end
	}

	return d, nil
}

// indexEndobj finds the end of an object body, skipping over stream data so
// that "endobj" occurrences inside binary streams are not misread.
func indexEndobj(b []byte, from int) int {
	i := from
	for {
		endobj := bytes.Index(b[i:], []byte("endobj"))
		if endobj < 0 {
			return -1
		}
		stream := bytes.Index(b[i:i+endobj], []byte("stream"))
		if stream < 0 {
			return i + endobj
		}
		// A stream keyword before endobj: jump past its endstream.
		es := bytes.Index(b[i+stream:], []byte("endstream"))
		if es < 0 {
			return i + endobj
		}
		i = i + stream + es + len("endstream")
	}
}

func lastSubmatch(re *regexp.Regexp, b []byte) [][]byte {
	all := re.FindAllSubmatch(b, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// Object returns the current definition of the given object number.
func (d *Document) Object(num int) (Object, bool) {
	o, ok := d.Objects[num]
	return o, ok
}

// Catalog returns the document catalog referenced by the trailer.
func (d *Document) Catalog() (Object, bool) {
	if d.RootRef == 0 {
		// Fall back to scanning for the catalog type; some producers
		// emit cross-reference streams whose trailer we do not parse.
		for _, o := range d.Objects {
			if o.HasName("/Type", "Catalog") {
				return o, true
			}
		}
		return Object{}, false
	}
	return d.Object(d.RootRef)
}

// RevisionCount reports how many append-only revisions the artifact
// carries, measured by end-of-file markers.
func (d *Document) RevisionCount() int {
	return len(d.EOFOffsets)
}

// HeaderCount counts %PDF- markers. More than one indicates concatenated
// streams rather than legitimate incremental revisions.
func (d *Document) HeaderCount() int {
	return bytes.Count(d.Raw, []byte("%PDF-"))
}

// XrefSectionCount counts classic cross-reference sections.
func (d *Document) XrefSectionCount() int {
	n := 0
	for i := 0; ; {
		j := bytes.Index(d.Raw[i:], []byte("\nxref"))
		if j < 0 {
			break
		}
		n++
		i += j + len("\nxref")
	}
	if bytes.HasPrefix(d.Raw, []byte("xref")) {
		n++
	}
	return n
}

// Dict returns the object's dictionary bytes, excluding any stream payload.
func (o Object) Dict() []byte {
	if i := bytes.Index(o.Body, []byte("stream")); i >= 0 {
		return bytes.TrimSpace(o.Body[:i])
	}
	return o.Body
}

// StreamData returns the decoded stream payload. FlateDecode is the only
// supported filter; unfiltered streams are returned as-is.
func (o Object) StreamData() ([]byte, error) {
	i := bytes.Index(o.Body, []byte("stream"))
	if i < 0 {
		return nil, fmt.Errorf("object %d has no stream", o.Number)
	}
	data := o.Body[i+len("stream"):]
	if len(data) > 0 && data[0] == '\r' {
		data = data[1:]
	}
	if len(data) > 0 && data[0] == '\n' {
		data = data[1:]
	}
	if j := bytes.LastIndex(data, []byte("endstream")); j >= 0 {
		data = data[:j]
	}
	// Strip the single EOL that precedes endstream.
	data = bytes.TrimRight(data, "\r\n")

	if filter, ok := FindName(o.Dict(), "/Filter"); ok {
		if filter != "FlateDecode" {
			return nil, fmt.Errorf("object %d: unsupported filter /%s", o.Number, filter)
		}
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("object %d: flate stream: %w", o.Number, err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("object %d: inflating stream: %w", o.Number, err)
		}
		return out, nil
	}
	return data, nil
}

// HasName reports whether the object's dictionary carries key with the
// given name value (value without leading slash).
func (o Object) HasName(key, value string) bool {
	v, ok := FindName(o.Dict(), key)
	return ok && v == value
}

// nameValueREs caches the per-key regexps; audits and seals run
// concurrently, so access is serialized.
var (
	nameValueMu  sync.Mutex
	nameValueREs = map[string]*regexp.Regexp{}
)

func nameValueRE(key string) *regexp.Regexp {
	nameValueMu.Lock()
	defer nameValueMu.Unlock()
	re, ok := nameValueREs[key]
	if !ok {
		re = regexp.MustCompile(regexp.QuoteMeta(key) + `\s*/([^\s/<>\[\]()]+)`)
		nameValueREs[key] = re
	}
	return re
}

// FindName locates "/Key /Value" in a dictionary and returns the value name
// without its leading slash.
func FindName(body []byte, key string) (string, bool) {
	m := nameValueRE(key).FindSubmatch(body)
	if m == nil {
		return "", false
	}
	return string(m[1]), true
}

// FindRef locates "/Key N G R" in a dictionary and returns the referenced
// object number.
func FindRef(body []byte, key string) (int, bool) {
	re := regexp.MustCompile(regexp.QuoteMeta(key) + `\s+(\d+)\s+\d+\s+R\b`)
	m := re.FindSubmatch(body)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, false
	}
	return n, true
}

// FindInt locates "/Key N" in a dictionary and returns the integer value.
func FindInt(body []byte, key string) (int64, bool) {
	re := regexp.MustCompile(regexp.QuoteMeta(key) + `\s+(-?\d+)`)
	m := re.FindSubmatch(body)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(string(m[1]), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FindString locates "/Key (literal)" in a dictionary and returns the
// unescaped literal string value.
func FindString(body []byte, key string) (string, bool) {
	idx := bytes.Index(body, []byte(key))
	if idx < 0 {
		return "", false
	}
	rest := body[idx+len(key):]
	open := bytes.IndexByte(rest, '(')
	if open < 0 {
		return "", false
	}
	// Balance parentheses, honoring backslash escapes.
	depth := 0
	var out []byte
	for i := open; i < len(rest); i++ {
		c := rest[i]
		switch c {
		case '\\':
			if i+1 < len(rest) {
				i++
				out = append(out, rest[i])
			}
		case '(':
			depth++
			if depth > 1 {
				out = append(out, c)
			}
		case ')':
			depth--
			if depth == 0 {
				return string(out), true
			}
			out = append(out, c)
		default:
			if depth > 0 {
				out = append(out, c)
			}
		}
	}
	return "", false
}
