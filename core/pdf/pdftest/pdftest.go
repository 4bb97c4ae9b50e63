// Package pdftest builds small, well-formed PDF fixtures for tests. The
// fixtures are single-revision documents with a classic cross-reference
// table, one page of visible text, and (by default) the PDF/A-3b
// identification packet in an XMP metadata stream.
package pdftest

import (
	"bytes"
	"fmt"
)

const xmpTemplate = `<?xpacket begin="" id="W5M0MpCehiHzreSzNTczkc9d"?>
<x:xmpmeta xmlns:x="adobe:ns:meta/">
 <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description rdf:about="" xmlns:pdfaid="http://www.aiim.org/pdfa/ns/id/">
   <pdfaid:part>%s</pdfaid:part>
   <pdfaid:conformance>%s</pdfaid:conformance>
  </rdf:Description>
 </rdf:RDF>
</x:xmpmeta>
<?xpacket end="w"?>`

// Base returns a PDF/A-3b flavored base document.
func Base() []byte {
	return WithConformance("3", "B")
}

// NonArchival returns a base document without any XMP metadata stream.
func NonArchival() []byte {
	return build("", "", false)
}

// WithConformance returns a base document declaring the given pdfaid part
// and conformance level in its XMP packet.
func WithConformance(part, conformance string) []byte {
	return build(part, conformance, true)
}

func build(part, conformance string, withXMP bool) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	offsets := map[int]int{}
	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	catalog := "<< /Type /Catalog /Pages 2 0 R >>"
	if withXMP {
		catalog = "<< /Type /Catalog /Pages 2 0 R /Metadata 4 0 R >>"
	}
	writeObj(1, catalog)
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 5 0 R >>")

	maxObj := 3
	if withXMP {
		xmp := fmt.Sprintf(xmpTemplate, part, conformance)
		writeObj(4, fmt.Sprintf("<< /Type /Metadata /Subtype /XML /Length %d >>\nstream\n%s\nendstream", len(xmp), xmp))
		maxObj = 4
	}

	content := "BT /F1 12 Tf 72 720 Td (Archival Agreement) Tj ET"
	writeObj(5, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	if maxObj < 5 {
		maxObj = 5
	}

	xrefOffset := buf.Len()
	buf.WriteString("xref\n")
	fmt.Fprintf(&buf, "0 %d\n", maxObj+1)
	buf.WriteString("0000000000 65535 f \n")
	for n := 1; n <= maxObj; n++ {
		off, ok := offsets[n]
		if !ok {
			buf.WriteString("0000000000 65535 f \n")
			continue
		}
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\n", maxObj+1)
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	return buf.Bytes()
}
