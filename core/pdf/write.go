package pdf

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Update assembles one incremental revision on top of a scanned document.
// Prior bytes are copied verbatim; new and replacement objects are appended
// after them, followed by a classic cross-reference section whose trailer
// points back at the previous one. Object numbers for new objects are
// allocated past the document's current maximum.
type Update struct {
	base    *Document
	nextNum int
	objects []updateObject
}

type updateObject struct {
	num  int
	body []byte
}

// NewUpdate starts an incremental revision over d.
func NewUpdate(d *Document) *Update {
	return &Update{base: d, nextNum: d.MaxObject + 1}
}

// AddObject appends a new object and returns its allocated number.
func (u *Update) AddObject(body []byte) int {
	num := u.nextNum
	u.nextNum++
	u.objects = append(u.objects, updateObject{num: num, body: body})
	return num
}

// ReplaceObject shadows an existing object number with a new body in this
// revision. The prior definition stays in the file untouched.
func (u *Update) ReplaceObject(num int, body []byte) {
	u.objects = append(u.objects, updateObject{num: num, body: body})
}

// Bytes renders the revision: base bytes, appended objects, a classic xref
// with contiguous subsections, and a trailer carrying /Size, /Root and
// /Prev. The base slice is never modified.
func (u *Update) Bytes() ([]byte, error) {
	if len(u.objects) == 0 {
		return nil, fmt.Errorf("incremental update has no objects")
	}

	var buf bytes.Buffer
	buf.Write(u.base.Raw)
	if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
		buf.WriteByte('\n')
	}

	offsets := make(map[int]int, len(u.objects))
	for _, o := range u.objects {
		offsets[o.num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", o.num)
		buf.Write(o.body)
		buf.WriteString("\nendobj\n")
	}

	nums := make([]int, 0, len(offsets))
	for n := range offsets {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	xrefOffset := buf.Len()
	buf.WriteString("xref\n")
	for i := 0; i < len(nums); {
		j := i
		for j+1 < len(nums) && nums[j+1] == nums[j]+1 {
			j++
		}
		fmt.Fprintf(&buf, "%d %d\n", nums[i], j-i+1)
		for _, n := range nums[i : j+1] {
			fmt.Fprintf(&buf, "%010d %05d n \n", offsets[n], 0)
		}
		i = j + 1
	}

	size := u.base.MaxObject + 1
	if u.nextNum > size {
		size = u.nextNum
	}
	buf.WriteString("trailer\n")
	fmt.Fprintf(&buf, "<< /Size %d /Root %d 0 R /Prev %d >>\n", size, u.base.RootRef, u.base.StartXref)
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	return buf.Bytes(), nil
}

// DictAppend inserts entries before the closing ">>" of a dictionary.
func DictAppend(dict []byte, entries string) []byte {
	i := bytes.LastIndex(dict, []byte(">>"))
	if i < 0 {
		return dict
	}
	out := make([]byte, 0, len(dict)+len(entries)+2)
	out = append(out, dict[:i]...)
	out = append(out, ' ')
	out = append(out, entries...)
	out = append(out, ' ')
	out = append(out, dict[i:]...)
	return out
}

// DictSetRef sets key to an indirect reference in a dictionary, replacing
// an existing entry or appending a new one.
func DictSetRef(dict []byte, key string, num int) []byte {
	entry := fmt.Sprintf("%s %d 0 R", key, num)
	re := regexp.MustCompile(regexp.QuoteMeta(key) + `\s+\d+\s+\d+\s+R\b`)
	if re.Match(dict) {
		return re.ReplaceAll(dict, []byte(entry))
	}
	return DictAppend(dict, entry)
}

// EscapeString escapes a value for use inside a PDF literal string.
func EscapeString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`, "\r", `\r`, "\n", `\n`)
	return r.Replace(s)
}

// NameEscape encodes a value as a PDF name token using #xx escapes for
// delimiters and non-regular characters. The leading slash is not included.
func NameEscape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= ' ' || c > '~' || strings.IndexByte("()<>[]{}/%#", c) >= 0 {
			fmt.Fprintf(&b, "#%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// StreamObject builds a stream object body from a dictionary (without
// /Length, which is filled in here) and payload data. When compress is set
// the payload is FlateDecode-encoded.
func StreamObject(dict string, data []byte, compress bool) []byte {
	filter := ""
	if compress {
		var z bytes.Buffer
		w := zlib.NewWriter(&z)
		w.Write(data) //nolint:errcheck // bytes.Buffer writes cannot fail
		w.Close()
		data = z.Bytes()
		filter = " /Filter /FlateDecode"
	}

	var buf bytes.Buffer
	trimmed := strings.TrimSuffix(strings.TrimSpace(dict), ">>")
	fmt.Fprintf(&buf, "%s%s /Length %d >>\nstream\n", trimmed, filter, len(data))
	buf.Write(data)
	buf.WriteString("\nendstream")
	return buf.Bytes()
}
