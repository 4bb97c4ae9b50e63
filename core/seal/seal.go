// Package seal produces archival seals over bound artifacts. Sealing is a
// strict append-only progression: a certification signature with DocMDP
// permissions, then a Document Security Store carrying validation material,
// then an RFC 3161 document timestamp. Each step is one incremental
// revision; earlier revisions are never rewritten, so every historical
// state of the artifact remains byte-recoverable.
package seal

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/ramiradwan/simple-legal-doc/core/cms"
	"github.com/ramiradwan/simple-legal-doc/core/pdf"
	"github.com/ramiradwan/simple-legal-doc/signer"
)

// State is the seal lifecycle position of an artifact.
type State string

// Lifecycle states, in progression order.
const (
	StateUnsigned           State = "UNSIGNED"
	StateCertified          State = "CERTIFIED"
	StateValidationAttached State = "VALIDATION_ATTACHED"
	StateTimestamped        State = "TIMESTAMPED"
)

// Signature standards declared on sealed output.
const (
	StandardPAdESB    = "PAdES-B"
	StandardPAdESBLTA = "PAdES-B-LTA"
)

// RevocationPolicy controls what happens when revocation material cannot
// be fetched while attaching validation data.
type RevocationPolicy string

const (
	// RevocationStrict fails the seal when revocation material is
	// unavailable. The default.
	RevocationStrict RevocationPolicy = "strict"
	// RevocationDowngrade returns the certified artifact without long-term
	// material, downgrading the declared standard to PAdES-B.
	RevocationDowngrade RevocationPolicy = "downgrade"
)

// Errors reported by Seal.
var (
	ErrAlreadySealed = errors.New("artifact already carries a seal")
	ErrNotBound      = errors.New("artifact has no bound payload")
	ErrTokenTooLarge = errors.New("signature token exceeds placeholder capacity")
)

// contentsPlaceholder is the byte capacity reserved for the DER token in a
// signature dictionary. Tokens larger than this cannot be embedded.
const contentsPlaceholder = 12288

const byteRangeTemplate = "/ByteRange [0 0000000000 0000000000 0000000000]"

// RevocationFetcher returns DER-encoded CRLs for a certificate chain.
type RevocationFetcher func(ctx context.Context, chain []*x509.Certificate) ([][]byte, error)

// Result is the outcome of a seal operation.
type Result struct {
	Artifact []byte
	State    State
	Standard string
	Backend  string

	// Downgraded is set when the revocation policy reduced a long-term
	// request to a plain certification seal; Reason explains why.
	Downgraded bool
	Reason     string
}

// Sealer drives the seal lifecycle against a signing port and, for
// long-term seals, a timestamp authority.
type Sealer struct {
	signing    signer.SigningPort
	tsa        signer.TimestampPort
	alg        signer.Algorithm
	revocation RevocationPolicy
	fetchCRLs  RevocationFetcher
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Sealer.
type Option func(*Sealer)

// WithAlgorithm selects the signing algorithm. Defaults to RS256.
func WithAlgorithm(alg signer.Algorithm) Option {
	return func(s *Sealer) { s.alg = alg }
}

// WithTimestampAuthority enables the long-term profile: validation data and
// a document timestamp are appended after certification.
func WithTimestampAuthority(tsa signer.TimestampPort) Option {
	return func(s *Sealer) { s.tsa = tsa }
}

// WithRevocationPolicy sets the behavior when revocation material cannot
// be obtained. Defaults to RevocationStrict.
func WithRevocationPolicy(p RevocationPolicy) Option {
	return func(s *Sealer) { s.revocation = p }
}

// WithRevocationFetcher overrides how CRLs are obtained.
func WithRevocationFetcher(f RevocationFetcher) Option {
	return func(s *Sealer) { s.fetchCRLs = f }
}

// WithLogger sets the logger used for progress output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sealer) { s.logger = l }
}

// WithClock overrides the time source for the signing time entry.
func WithClock(now func() time.Time) Option {
	return func(s *Sealer) { s.now = now }
}

// NewSealer creates a Sealer over the given signing port.
func NewSealer(signing signer.SigningPort, opts ...Option) *Sealer {
	s := &Sealer{
		signing:    signing,
		alg:        signer.RS256,
		revocation: RevocationStrict,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetchCRLs == nil {
		s.fetchCRLs = fetchCRLsHTTP
	}
	return s
}

// Seal runs the full lifecycle over a bound artifact. Without a timestamp
// authority the result is a PAdES-B certification seal; with one, the
// artifact progresses through validation attachment to a document
// timestamp and is declared PAdES-B-LTA. All work happens in memory; on
// error the input artifact is untouched and no partial state escapes.
func (s *Sealer) Seal(ctx context.Context, bound []byte) (*Result, error) {
	doc, err := pdf.Scan(bound)
	if err != nil {
		return nil, fmt.Errorf("scanning artifact: %w", err)
	}
	if state := StateOf(doc); state != StateUnsigned {
		return nil, fmt.Errorf("%w: state is %s", ErrAlreadySealed, state)
	}
	if _, ok := doc.EmbeddedFileByRelationship("Data"); !ok {
		return nil, ErrNotBound
	}

	certified, err := s.certify(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("certifying: %w", err)
	}
	s.logger.Info("artifact certified", "backend", s.signing.Backend(), "algorithm", string(s.alg))

	if s.tsa == nil {
		return &Result{
			Artifact: certified,
			State:    StateCertified,
			Standard: StandardPAdESB,
			Backend:  s.signing.Backend(),
		}, nil
	}

	withDSS, err := s.attachValidation(ctx, certified)
	if err != nil {
		if s.revocation == RevocationDowngrade {
			s.logger.Warn("long-term material unavailable, downgrading seal", "error", err)
			return &Result{
				Artifact:   certified,
				State:      StateCertified,
				Standard:   StandardPAdESB,
				Backend:    s.signing.Backend(),
				Downgraded: true,
				Reason:     err.Error(),
			}, nil
		}
		return nil, fmt.Errorf("attaching validation data: %w", err)
	}
	s.logger.Info("validation data attached")

	timestamped, err := s.timestamp(ctx, withDSS)
	if err != nil {
		return nil, fmt.Errorf("timestamping: %w", err)
	}
	s.logger.Info("document timestamp applied")

	return &Result{
		Artifact: timestamped,
		State:    StateTimestamped,
		Standard: StandardPAdESBLTA,
		Backend:  s.signing.Backend(),
	}, nil
}

// StateOf classifies an artifact's lifecycle position from its structure.
func StateOf(doc *pdf.Document) State {
	sigs := doc.Signatures()
	if len(sigs) == 0 {
		return StateUnsigned
	}
	for _, sig := range sigs {
		if sig.Type == "DocTimeStamp" {
			return StateTimestamped
		}
	}
	if cat, ok := doc.Catalog(); ok {
		if _, hasDSS := pdf.FindRef(cat.Dict(), "/DSS"); hasDSS {
			return StateValidationAttached
		}
	}
	return StateCertified
}

var (
	kidsRE  = regexp.MustCompile(`/Kids\s*\[\s*(\d+)\s+\d+\s+R`)
	arrayMu sync.Mutex
	arrayRE = map[string]*regexp.Regexp{}
)

// arrayInsertRE caches per-key regexps; seals run concurrently, so the
// cache is serialized.
func arrayInsertRE(key string) *regexp.Regexp {
	arrayMu.Lock()
	defer arrayMu.Unlock()
	re, ok := arrayRE[key]
	if !ok {
		re = regexp.MustCompile(regexp.QuoteMeta(key) + `\s*\[`)
		arrayRE[key] = re
	}
	return re
}

// insertRef appends an indirect reference into an existing array value, or
// adds the array when the key is absent.
func insertRef(dict []byte, key string, num int) []byte {
	loc := arrayInsertRE(key).FindIndex(dict)
	if loc == nil {
		return pdf.DictAppend(dict, fmt.Sprintf("%s [%d 0 R]", key, num))
	}
	ref := fmt.Sprintf("%d 0 R ", num)
	out := make([]byte, 0, len(dict)+len(ref))
	out = append(out, dict[:loc[1]]...)
	out = append(out, ref...)
	out = append(out, dict[loc[1]:]...)
	return out
}

func firstPage(doc *pdf.Document, cat pdf.Object) (int, error) {
	pagesNum, ok := pdf.FindRef(cat.Dict(), "/Pages")
	if !ok {
		return 0, errors.New("catalog has no page tree")
	}
	pages, ok := doc.Object(pagesNum)
	if !ok {
		return 0, fmt.Errorf("page tree object %d missing", pagesNum)
	}
	m := kidsRE.FindSubmatch(pages.Dict())
	if m == nil {
		return 0, errors.New("page tree has no kids")
	}
	var n int
	if _, err := fmt.Sscanf(string(m[1]), "%d", &n); err != nil {
		return 0, err
	}
	return n, nil
}

func pdfDate(t time.Time) string {
	return t.UTC().Format("D:20060102150405Z")
}

// certify appends the certification revision: a DocMDP signature
// dictionary, its widget on the first page, the AcroForm entry, and the
// /Perms hookup, then fills the byte-range signature.
func (s *Sealer) certify(ctx context.Context, doc *pdf.Document) ([]byte, error) {
	cert, chain, err := s.signing.CertificateChain(ctx)
	if err != nil {
		return nil, err
	}
	if err := signer.CheckKeyStrength(cert); err != nil {
		return nil, err
	}
	hash, err := s.alg.Hash()
	if err != nil {
		return nil, err
	}

	cat, ok := doc.Catalog()
	if !ok {
		return nil, errors.New("artifact has no catalog")
	}
	pageNum, err := firstPage(doc, cat)
	if err != nil {
		return nil, err
	}
	page, _ := doc.Object(pageNum)

	u := pdf.NewUpdate(doc)
	sigDict := fmt.Sprintf(
		"<< /Type /Sig /Filter /Adobe.PPKLite /SubFilter /ETSI.CAdES.detached "+
			"%s /Contents <%s> /M (%s) "+
			"/Reference [<< /Type /SigRef /TransformMethod /DocMDP /TransformParams "+
			"<< /Type /TransformParams /P 2 /V /1.2 >> >>] >>",
		byteRangeTemplate, bytes.Repeat([]byte("0"), contentsPlaceholder*2), pdfDate(s.now()))
	sigNum := u.AddObject([]byte(sigDict))

	widget := fmt.Sprintf(
		"<< /Type /Annot /Subtype /Widget /FT /Sig /T (Seal1) /V %d 0 R /Rect [0 0 0 0] /F 132 /P %d 0 R >>",
		sigNum, pageNum)
	widgetNum := u.AddObject([]byte(widget))

	u.ReplaceObject(pageNum, insertRef(page.Dict(), "/Annots", widgetNum))

	newCat := pdf.DictAppend(cat.Dict(),
		fmt.Sprintf("/AcroForm << /Fields [%d 0 R] /SigFlags 3 >> /Perms << /DocMDP %d 0 R >>", widgetNum, sigNum))
	u.ReplaceObject(cat.Number, newCat)

	rendered, err := u.Bytes()
	if err != nil {
		return nil, err
	}

	return s.embedToken(rendered, len(doc.Raw), func(signed []byte) ([]byte, error) {
		h := hash.New()
		h.Write(signed)
		return cms.BuildDetached(ctx, h.Sum(nil), hash, cert, chain, func(ctx context.Context, digest []byte, _ crypto.Hash) ([]byte, error) {
			return s.signing.SignDigest(ctx, digest, s.alg)
		})
	})
}

// attachValidation appends the Document Security Store revision carrying
// the signer chain and its revocation material.
func (s *Sealer) attachValidation(ctx context.Context, certified []byte) ([]byte, error) {
	doc, err := pdf.Scan(certified)
	if err != nil {
		return nil, err
	}
	cert, chain, err := s.signing.CertificateChain(ctx)
	if err != nil {
		return nil, err
	}
	full := append([]*x509.Certificate{cert}, chain...)

	crls, err := s.fetchCRLs(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("fetching revocation material: %w", err)
	}

	cat, ok := doc.Catalog()
	if !ok {
		return nil, errors.New("artifact has no catalog")
	}

	u := pdf.NewUpdate(doc)
	var certRefs, crlRefs []int
	for _, c := range full {
		certRefs = append(certRefs, u.AddObject(pdf.StreamObject("<< >>", c.Raw, true)))
	}
	for _, crl := range crls {
		crlRefs = append(crlRefs, u.AddObject(pdf.StreamObject("<< >>", crl, true)))
	}

	dss := bytes.NewBufferString("<< /Type /DSS /Certs [")
	for i, ref := range certRefs {
		if i > 0 {
			dss.WriteByte(' ')
		}
		fmt.Fprintf(dss, "%d 0 R", ref)
	}
	dss.WriteString("]")
	if len(crlRefs) > 0 {
		dss.WriteString(" /CRLs [")
		for i, ref := range crlRefs {
			if i > 0 {
				dss.WriteByte(' ')
			}
			fmt.Fprintf(dss, "%d 0 R", ref)
		}
		dss.WriteString("]")
	}
	dss.WriteString(" >>")
	dssNum := u.AddObject(dss.Bytes())

	u.ReplaceObject(cat.Number, pdf.DictSetRef(cat.Dict(), "/DSS", dssNum))
	return u.Bytes()
}

// timestamp appends the document timestamp revision and fills it with a
// token from the timestamp authority.
func (s *Sealer) timestamp(ctx context.Context, withDSS []byte) ([]byte, error) {
	doc, err := pdf.Scan(withDSS)
	if err != nil {
		return nil, err
	}
	cat, ok := doc.Catalog()
	if !ok {
		return nil, errors.New("artifact has no catalog")
	}
	pageNum, err := firstPage(doc, cat)
	if err != nil {
		return nil, err
	}
	page, _ := doc.Object(pageNum)

	u := pdf.NewUpdate(doc)
	tsDict := fmt.Sprintf(
		"<< /Type /DocTimeStamp /Filter /Adobe.PPKLite /SubFilter /ETSI.RFC3161 %s /Contents <%s> >>",
		byteRangeTemplate, bytes.Repeat([]byte("0"), contentsPlaceholder*2))
	tsNum := u.AddObject([]byte(tsDict))

	widget := fmt.Sprintf(
		"<< /Type /Annot /Subtype /Widget /FT /Sig /T (Timestamp1) /V %d 0 R /Rect [0 0 0 0] /F 132 /P %d 0 R >>",
		tsNum, pageNum)
	widgetNum := u.AddObject([]byte(widget))

	u.ReplaceObject(pageNum, insertRef(page.Dict(), "/Annots", widgetNum))
	u.ReplaceObject(cat.Number, insertRef(cat.Dict(), "/Fields", widgetNum))

	rendered, err := u.Bytes()
	if err != nil {
		return nil, err
	}

	return s.embedToken(rendered, len(doc.Raw), func(signed []byte) ([]byte, error) {
		return s.tsa.Timestamp(ctx, signed, crypto.SHA256)
	})
}

// embedToken finalizes a rendered revision that carries exactly one
// placeholder signature dictionary after revStart: it patches the byte
// range, hands the signed ranges to produce, and splices the returned DER
// token into the contents gap in hex form.
func (s *Sealer) embedToken(rendered []byte, revStart int, produce func(signed []byte) ([]byte, error)) ([]byte, error) {
	out := make([]byte, len(rendered))
	copy(out, rendered)

	rel := bytes.Index(out[revStart:], []byte("/Contents <"))
	if rel < 0 {
		return nil, errors.New("revision carries no contents placeholder")
	}
	lt := revStart + rel + len("/Contents <") - 1 // offset of '<'
	gt := lt + 1 + contentsPlaceholder*2          // offset of '>'
	if gt >= len(out) || out[gt] != '>' {
		return nil, errors.New("contents placeholder is malformed")
	}

	brRel := bytes.Index(out[revStart:], []byte(byteRangeTemplate))
	if brRel < 0 {
		return nil, errors.New("revision carries no byte-range placeholder")
	}
	brStart := revStart + brRel
	realBR := fmt.Sprintf("/ByteRange [0 %d %d %d]", lt, gt+1, len(out)-gt-1)
	if len(realBR) > len(byteRangeTemplate) {
		return nil, errors.New("byte range exceeds placeholder width")
	}
	for len(realBR) < len(byteRangeTemplate) {
		realBR += " "
	}
	copy(out[brStart:], realBR)

	signed := make([]byte, 0, lt+len(out)-gt-1)
	signed = append(signed, out[:lt]...)
	signed = append(signed, out[gt+1:]...)

	token, err := produce(signed)
	if err != nil {
		return nil, err
	}
	if len(token) > contentsPlaceholder {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTokenTooLarge, len(token), contentsPlaceholder)
	}
	hex.Encode(out[lt+1:], token)
	return out, nil
}

// fetchCRLsHTTP pulls CRLs from each certificate's distribution points.
// Certificates without distribution points contribute nothing; an
// unreachable endpoint is an error so the caller's revocation policy can
// decide the outcome.
func fetchCRLsHTTP(ctx context.Context, chain []*x509.Certificate) ([][]byte, error) {
	client := &http.Client{Timeout: 15 * time.Second}
	var crls [][]byte
	for _, cert := range chain {
		for _, dp := range cert.CRLDistributionPoints {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, dp, nil)
			if err != nil {
				return nil, fmt.Errorf("building CRL request for %s: %w", dp, err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetching CRL %s: %w", dp, err)
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("reading CRL %s: %w", dp, err)
			}
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("CRL endpoint %s returned HTTP %d", dp, resp.StatusCode)
			}
			crls = append(crls, body)
		}
	}
	return crls, nil
}
