// Package cms assembles and verifies CMS (RFC 5652) SignedData messages in
// the detached form used for container seals. Signing is delegated through
// a digest callback so the private key can live behind an external signing
// service; this package never sees key material.
//
// The scope is deliberately narrow: single signer, RSASSA-PKCS1-v1_5 over
// SHA-256/384/512, signed attributes always present (content-type,
// message-digest, and an ESS signing-certificate-v2 binding the signer
// certificate).
package cms

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// ASN.1 tag bytes used when re-tagging the signed-attribute SET between its
// wire form (IMPLICIT [0], 0xA0) and the SET form (0x31) the signature
// digest is computed over, per RFC 5652 section 5.4.
const (
	setTag       = byte(0x31)
	implicit0Tag = byte(0xA0)
)

var (
	oidData                 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	oidSignedData           = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidAttrContentType      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	oidAttrMessageDigest    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	oidAttrSigningCertV2    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
	oidDigestSHA256         = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidDigestSHA384         = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidDigestSHA512         = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
	oidRSAEncryption        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	oidSHA256WithRSA        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	oidSHA384WithRSA        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	oidSHA512WithRSA        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
)

// Errors reported during verification.
var (
	ErrNotSignedData    = errors.New("content type is not SignedData")
	ErrNoSigners        = errors.New("SignedData carries no signer")
	ErrDigestMismatch   = errors.New("message-digest attribute does not match content digest")
	ErrSignatureInvalid = errors.New("signature verification failed")
)

// SignDigestFunc signs a raw digest with RSASSA-PKCS1-v1_5 for the given
// hash. Implementations typically forward to an external signing service.
type SignDigestFunc func(ctx context.Context, digest []byte, hash crypto.Hash) ([]byte, error)

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"optional,tag:0"`
}

type encapContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"optional,tag:0"`
}

type issuerAndSerial struct {
	Issuer asn1.RawValue
	Serial *big.Int
}

type attribute struct {
	Type   asn1.ObjectIdentifier
	Values asn1.RawValue
}

type signerInfo struct {
	Version            int
	SID                issuerAndSerial
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
}

type signedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo encapContentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      []signerInfo  `asn1:"set"`
}

type essCertIDv2 struct {
	CertHash []byte
}

type signingCertificateV2 struct {
	Certs []essCertIDv2
}

// BuildDetached assembles a detached SignedData over content already
// reduced to its digest. The signed attributes bind the content type, the
// content digest, and the signer certificate; the signature over the
// attribute set is produced by sign. Chain certificates are embedded so a
// verifier can build the full path from the token alone.
func BuildDetached(ctx context.Context, contentDigest []byte, hash crypto.Hash, cert *x509.Certificate, chain []*x509.Certificate, sign SignDigestFunc) ([]byte, error) {
	if cert == nil {
		return nil, errors.New("signer certificate is required")
	}
	digestOID, sigOID, err := oidsForHash(hash)
	if err != nil {
		return nil, err
	}
	if len(contentDigest) != hash.Size() {
		return nil, fmt.Errorf("content digest is %d bytes, want %d for %s", len(contentDigest), hash.Size(), hash)
	}

	attrs, err := buildSignedAttrs(contentDigest, cert)
	if err != nil {
		return nil, err
	}
	attrSet, err := asn1.MarshalWithParams(attrs, "set")
	if err != nil {
		return nil, fmt.Errorf("encoding signed attributes: %w", err)
	}

	h := hash.New()
	h.Write(attrSet)
	signature, err := sign(ctx, h.Sum(nil), hash)
	if err != nil {
		return nil, fmt.Errorf("signing attribute digest: %w", err)
	}

	si := signerInfo{
		Version: 1,
		SID: issuerAndSerial{
			Issuer: asn1.RawValue{FullBytes: cert.RawIssuer},
			Serial: cert.SerialNumber,
		},
		DigestAlgorithm:    pkix.AlgorithmIdentifier{Algorithm: digestOID},
		SignedAttrs:        asn1.RawValue{FullBytes: retag(attrSet, implicit0Tag)},
		SignatureAlgorithm: pkix.AlgorithmIdentifier{Algorithm: sigOID},
		Signature:          signature,
	}

	certs, err := rawCertificateSet(append([]*x509.Certificate{cert}, chain...))
	if err != nil {
		return nil, err
	}

	sd := signedData{
		Version:          1,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{{Algorithm: digestOID}},
		EncapContentInfo: encapContentInfo{EContentType: oidData},
		Certificates:     certs,
		SignerInfos:      []signerInfo{si},
	}

	sdBytes, err := asn1.Marshal(sd)
	if err != nil {
		return nil, fmt.Errorf("encoding SignedData: %w", err)
	}
	// encoding/asn1 writes RawValue.FullBytes verbatim, ignoring tag
	// annotations, so the [0] EXPLICIT wrapper must be built by hand.
	wrapped, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      sdBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("wrapping SignedData: %w", err)
	}
	return asn1.Marshal(contentInfo{
		ContentType: oidSignedData,
		Content:     asn1.RawValue{FullBytes: wrapped},
	})
}

func buildSignedAttrs(contentDigest []byte, cert *x509.Certificate) ([]attribute, error) {
	ctVal, err := asn1.Marshal(oidData)
	if err != nil {
		return nil, err
	}
	mdVal, err := asn1.Marshal(contentDigest)
	if err != nil {
		return nil, err
	}
	certHash := sha256.Sum256(cert.Raw)
	scVal, err := asn1.Marshal(signingCertificateV2{
		Certs: []essCertIDv2{{CertHash: certHash[:]}},
	})
	if err != nil {
		return nil, err
	}

	attrs := make([]attribute, 0, 3)
	for _, a := range []struct {
		oid asn1.ObjectIdentifier
		val []byte
	}{
		{oidAttrContentType, ctVal},
		{oidAttrMessageDigest, mdVal},
		{oidAttrSigningCertV2, scVal},
	} {
		set, err := asn1.Marshal(asn1.RawValue{
			Tag:        asn1.TagSet,
			IsCompound: true,
			Bytes:      a.val,
		})
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attribute{Type: a.oid, Values: asn1.RawValue{FullBytes: set}})
	}
	return attrs, nil
}

// rawCertificateSet builds the IMPLICIT [0] certificate set from the raw
// DER of each certificate, deduplicated.
func rawCertificateSet(certs []*x509.Certificate) (asn1.RawValue, error) {
	var body bytes.Buffer
	seen := make(map[string]bool, len(certs))
	for _, c := range certs {
		if c == nil || seen[string(c.Raw)] {
			continue
		}
		seen[string(c.Raw)] = true
		body.Write(c.Raw)
	}
	wrapped, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      body.Bytes(),
	})
	if err != nil {
		return asn1.RawValue{}, fmt.Errorf("encoding certificate set: %w", err)
	}
	return asn1.RawValue{FullBytes: wrapped}, nil
}

func oidsForHash(h crypto.Hash) (digest, signature asn1.ObjectIdentifier, err error) {
	switch h {
	case crypto.SHA256:
		return oidDigestSHA256, oidSHA256WithRSA, nil
	case crypto.SHA384:
		return oidDigestSHA384, oidSHA384WithRSA, nil
	case crypto.SHA512:
		return oidDigestSHA512, oidSHA512WithRSA, nil
	default:
		return nil, nil, fmt.Errorf("unsupported digest algorithm %s", h)
	}
}

func hashFromOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(oidDigestSHA256):
		return crypto.SHA256, nil
	case oid.Equal(oidDigestSHA384):
		return crypto.SHA384, nil
	case oid.Equal(oidDigestSHA512):
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("unsupported digest algorithm OID %s", oid)
	}
}

// SignedData is a parsed detached CMS token.
type SignedData struct {
	sd    signedData
	certs []*x509.Certificate
}

// Parse decodes a DER-encoded ContentInfo wrapping SignedData. Trailing
// bytes after the ContentInfo are ignored, which tolerates the zero padding
// left by fixed-size signature placeholders.
func Parse(der []byte) (*SignedData, error) {
	var ci contentInfo
	if _, err := asn1.Unmarshal(der, &ci); err != nil {
		return nil, fmt.Errorf("parsing ContentInfo: %w", err)
	}
	if !ci.ContentType.Equal(oidSignedData) {
		return nil, fmt.Errorf("%w: got %s", ErrNotSignedData, ci.ContentType)
	}

	var sd signedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("parsing SignedData: %w", err)
	}
	if len(sd.SignerInfos) == 0 {
		return nil, ErrNoSigners
	}

	var certs []*x509.Certificate
	rest := sd.Certificates.Bytes
	for len(rest) > 0 {
		var rv asn1.RawValue
		tail, err := asn1.Unmarshal(rest, &rv)
		if err != nil {
			break
		}
		rest = tail
		cert, err := x509.ParseCertificate(rv.FullBytes)
		if err != nil {
			// Attribute certificates and other choices are skipped.
			continue
		}
		certs = append(certs, cert)
	}

	return &SignedData{sd: sd, certs: certs}, nil
}

// Certificates returns every certificate embedded in the token.
func (s *SignedData) Certificates() []*x509.Certificate {
	return s.certs
}

// SignerCertificate resolves the certificate named by the first signer's
// issuer and serial number from the embedded set.
func (s *SignedData) SignerCertificate() (*x509.Certificate, error) {
	si := s.sd.SignerInfos[0]
	for _, cert := range s.certs {
		if cert.SerialNumber.Cmp(si.SID.Serial) == 0 &&
			bytes.Equal(cert.RawIssuer, si.SID.Issuer.FullBytes) {
			return cert, nil
		}
	}
	return nil, fmt.Errorf("signer certificate with serial %s not embedded in token", si.SID.Serial)
}

// VerifyDetached checks the token against externally supplied content: the
// message-digest attribute must match the content digest, the content-type
// attribute must be id-data, and the signature over the attribute set must
// verify under the signer certificate's RSA key. Chain trust is a separate
// concern; see VerifyChain.
func (s *SignedData) VerifyDetached(content []byte) error {
	si := s.sd.SignerInfos[0]
	cert, err := s.SignerCertificate()
	if err != nil {
		return err
	}
	hash, err := hashFromOID(si.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}

	h := hash.New()
	h.Write(content)
	contentDigest := h.Sum(nil)

	if len(si.SignedAttrs.FullBytes) == 0 {
		return errors.New("token has no signed attributes")
	}
	attrSet := retag(si.SignedAttrs.FullBytes, setTag)
	if err := checkSignedAttrs(attrSet, contentDigest); err != nil {
		return err
	}

	h2 := hash.New()
	h2.Write(attrSet)
	attrDigest := h2.Sum(nil)

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: signer certificate key is %T, want RSA", ErrSignatureInvalid, cert.PublicKey)
	}
	if !rsaSignatureOID(si.SignatureAlgorithm.Algorithm) {
		return fmt.Errorf("unsupported signature algorithm OID %s", si.SignatureAlgorithm.Algorithm)
	}
	if err := rsa.VerifyPKCS1v15(pub, hash, attrDigest, si.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// VerifyChain validates that the signer certificate chains to one of the
// given roots at the reference time, using the token's embedded
// certificates as intermediates. A nil pool falls back to the system store.
func (s *SignedData) VerifyChain(roots *x509.CertPool, at time.Time) ([][]*x509.Certificate, error) {
	cert, err := s.SignerCertificate()
	if err != nil {
		return nil, err
	}
	intermediates := x509.NewCertPool()
	for _, c := range s.certs {
		if !bytes.Equal(c.Raw, cert.Raw) {
			intermediates.AddCert(c)
		}
	}
	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, fmt.Errorf("certificate chain validation failed: %w", err)
	}
	return chains, nil
}

// checkSignedAttrs validates the mandatory content-type and message-digest
// attributes in the SET-tagged attribute bytes.
func checkSignedAttrs(attrSet, contentDigest []byte) error {
	var attrs []attribute
	if _, err := asn1.UnmarshalWithParams(attrSet, &attrs, "set"); err != nil {
		return fmt.Errorf("parsing signed attributes: %w", err)
	}

	var foundCT, foundMD bool
	for _, a := range attrs {
		switch {
		case a.Type.Equal(oidAttrContentType):
			var oid asn1.ObjectIdentifier
			if _, err := asn1.Unmarshal(a.Values.Bytes, &oid); err != nil {
				return fmt.Errorf("parsing content-type attribute: %w", err)
			}
			if !oid.Equal(oidData) {
				return fmt.Errorf("content-type attribute is %s, want id-data", oid)
			}
			foundCT = true
		case a.Type.Equal(oidAttrMessageDigest):
			var md []byte
			if _, err := asn1.Unmarshal(a.Values.Bytes, &md); err != nil {
				return fmt.Errorf("parsing message-digest attribute: %w", err)
			}
			if !bytes.Equal(md, contentDigest) {
				return ErrDigestMismatch
			}
			foundMD = true
		}
	}
	if !foundCT {
		return errors.New("mandatory content-type attribute is missing")
	}
	if !foundMD {
		return errors.New("mandatory message-digest attribute is missing")
	}
	return nil
}

func rsaSignatureOID(oid asn1.ObjectIdentifier) bool {
	return oid.Equal(oidRSAEncryption) ||
		oid.Equal(oidSHA256WithRSA) ||
		oid.Equal(oidSHA384WithRSA) ||
		oid.Equal(oidSHA512WithRSA)
}

// retag copies b with its outermost tag byte replaced.
func retag(b []byte, tag byte) []byte {
	if len(b) == 0 {
		return b
	}
	out := make([]byte, len(b))
	copy(out, b)
	out[0] = tag
	return out
}
