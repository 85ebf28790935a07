package model

import (
	"bytes"
	"encoding/hex"
)

// Psid is a Provider Service Identifier.
type Psid uint32

// MaxPsid is the largest PSID representable in the 4-octet p-encoding.
const MaxPsid Psid = 270549119

func (p Psid) Valid() bool { return p <= MaxPsid }

// HashedID8 is the low-order eight bytes of a SHA-256 content hash.
type HashedID8 [8]byte

func (h HashedID8) String() string { return hex.EncodeToString(h[:]) }

// HashedID3 is the low-order three bytes of a SHA-256 content hash (CRACA id).
type HashedID3 [3]byte

type HashAlgorithm uint8

const (
	SHA256 HashAlgorithm = iota
	SHA384
)

type CertKind uint8

const (
	CertExplicit CertKind = iota
	CertImplicit
)

func (k CertKind) String() string {
	if k == CertImplicit {
		return "implicit"
	}
	return "explicit"
}

type SubjectKind uint8

const (
	SubjectNone SubjectKind = iota
	SubjectLinkage
	SubjectHostName
	SubjectBinaryID
)

// SubjectID identifies the certificate holder. Exactly the fields selected by
// Kind are meaningful.
type SubjectID struct {
	Kind     SubjectKind
	ICert    uint16
	Linkage  [9]byte
	HostName string
	Binary   []byte
}

func (s SubjectID) Equal(o SubjectID) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case SubjectLinkage:
		return s.ICert == o.ICert && s.Linkage == o.Linkage
	case SubjectHostName:
		return s.HostName == o.HostName
	case SubjectBinaryID:
		return bytes.Equal(s.Binary, o.Binary)
	}
	return true
}

type IssuerKind uint8

const (
	IssuerSelf IssuerKind = iota
	IssuerDigest
)

// IssuerID names the issuer of a certificate.
type IssuerID struct {
	Kind    IssuerKind
	HashAlg HashAlgorithm
	Digest  HashedID8
}

type KeyKind uint8

const (
	VerificationKey KeyKind = iota
	ReconstructionValue
)

// CompressedPointSize is the size of a compressed P-256 point.
const CompressedPointSize = 33

// VerificationKeyIndicator carries either an explicit public key or an
// implicit-certificate reconstruction value, both as compressed points.
type VerificationKeyIndicator struct {
	Kind  KeyKind
	Point []byte
}

// MaxAppPermissions bounds the application-permission list of a certificate.
const MaxAppPermissions = 32

// CertificateContents is the parsed, encoding-independent view of a certificate.
type CertificateContents struct {
	Kind           CertKind
	Issuer         IssuerID
	Subject        SubjectID
	CracaID        HashedID3
	CrlSeries      uint16
	Validity       ValidityPeriod
	Region         Region
	AppPermissions []Psid
	EncryptionKey  []byte
	VerifyKey      VerificationKeyIndicator
}

// Validate checks the structural invariants of c.
func (c *CertificateContents) Validate() error {
	switch c.Kind {
	case CertExplicit:
		if c.VerifyKey.Kind != VerificationKey {
			return NewError(ErrInvalidCert, "explicit certificate must carry a verification key")
		}
	case CertImplicit:
		if c.VerifyKey.Kind != ReconstructionValue {
			return NewError(ErrInvalidCert, "implicit certificate must carry a reconstruction value")
		}
	default:
		return Errorf(ErrInvalidCert, "unknown certificate kind %d", c.Kind)
	}
	if len(c.VerifyKey.Point) != CompressedPointSize {
		return Errorf(ErrInvalidPoint, "verification key indicator must be %d bytes", CompressedPointSize)
	}
	if len(c.AppPermissions) > MaxAppPermissions {
		return Errorf(ErrLengthBounds, "too many application permissions (%d)", len(c.AppPermissions))
	}
	if c.Validity.End <= c.Validity.Start {
		return NewError(ErrInvalidCert, "empty validity period")
	}
	return nil
}

// Permits reports whether psid is listed in the application permissions.
func (c *CertificateContents) Permits(psid Psid) bool {
	for _, p := range c.AppPermissions {
		if p == psid {
			return true
		}
	}
	return false
}

// Certificate is a decoded certificate. Explicit certificates carry the
// issuer's signature; implicit certificates do not.
type Certificate struct {
	Contents  CertificateContents
	Signature *Signature
}

// PointMode selects how the ECDSA r component is carried.
type PointMode uint8

const (
	PointXOnly PointMode = iota
	PointCompressed
)

func (m PointMode) Valid() bool { return m <= PointCompressed }

// Signature is an ECDSA P-256 signature. R is 32 bytes in x-only mode and a
// 33-byte compressed point in compressed mode.
type Signature struct {
	Mode PointMode
	R    []byte
	S    [32]byte
}

// Bytes returns a stable byte form (mode || r || s) used for replay matching.
func (s Signature) Bytes() []byte {
	out := make([]byte, 0, 1+len(s.R)+len(s.S))
	out = append(out, byte(s.Mode))
	out = append(out, s.R...)
	return append(out, s.S[:]...)
}
