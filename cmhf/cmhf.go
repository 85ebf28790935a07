// Package cmhf encodes and decodes CMHF containers: a certificate (or a
// batch of rotating certificates) together with its reconstructed private
// key and the fields common to the batch.
//
// Layout, big-endian with no padding:
//
//	magic:u32 "CMHF"
//	cmh_type:u8 issuer_h8[8] craca_id[3] crl_series:u16
//	valid_start:u32 valid_end:u32 region_type:u8 psid_count:u8 psid:u32[psid_count]
//	region_payload
//	[period_i:u32 cert_count:u8]                    (rotate types only)
//	{cert_size:u16 cert_hash[32] subject_id_type:u8 key_type:u8
//	 private_key[32] subject_id_payload cert_bytes[cert_size]}  x 1 or cert_count
//	h8[8]
//
// h8 is the first 8 bytes of SHA-256 over every preceding byte. Decode
// reports every structural or integrity failure as model.ErrCorruptContainer.
package cmhf

import (
	"bytes"

	"xdao.co/v2xsec/model"
)

// Magic is the container magic value ("CMHF").
const Magic uint32 = 0x434D4846

// Kind is the cmh_type of a container.
type Kind uint8

const (
	KindApplication          Kind = 1
	KindEnrollment           Kind = 2
	KindIdentification       Kind = 3
	KindPseudonym            Kind = 4
	KindIdentificationRotate Kind = 5
)

func (k Kind) Valid() bool { return k >= KindApplication && k <= KindIdentificationRotate }

// Rotate reports whether containers of kind k carry a butterfly batch.
func (k Kind) Rotate() bool { return k == KindPseudonym || k == KindIdentificationRotate }

func (k Kind) String() string {
	switch k {
	case KindApplication:
		return "application"
	case KindEnrollment:
		return "enrollment"
	case KindIdentification:
		return "identification"
	case KindPseudonym:
		return "pseudonym"
	case KindIdentificationRotate:
		return "identification-rotate"
	default:
		return "unknown"
	}
}

// KeyType identifies the private key algorithm of an individual record.
type KeyType uint8

const KeyECDSANistP256 KeyType = 0

// Common holds the fields shared by every certificate in a container.
type Common struct {
	Kind       Kind
	IssuerH8   model.HashedID8
	CracaID    model.HashedID3
	CrlSeries  uint16
	ValidStart model.Time32
	ValidEnd   model.Time32
	Region     model.Region
	Psids      []model.Psid
}

// Individual is one certificate and its private key.
type Individual struct {
	Cert       []byte
	CertHash   [32]byte
	Subject    model.SubjectID
	KeyType    KeyType
	PrivateKey [32]byte
}

// Record is a decoded container. PeriodI is only meaningful for rotate kinds.
type Record struct {
	Common
	PeriodI     uint32
	Individuals []Individual
}

// Validity returns the common validity window in Time64 units.
func (c *Common) Validity() model.ValidityPeriod {
	return model.ValidityPeriod{Start: c.ValidStart.Time64(), End: c.ValidEnd.Time64()}
}

func commonFrom(kind Kind, issuerH8 model.HashedID8, c *model.CertificateContents) Common {
	return Common{
		Kind:       kind,
		IssuerH8:   issuerH8,
		CracaID:    c.CracaID,
		CrlSeries:  c.CrlSeries,
		ValidStart: c.Validity.Start.Time32(),
		ValidEnd:   c.Validity.End.Time32(),
		Region:     c.Region,
		Psids:      append([]model.Psid(nil), c.AppPermissions...),
	}
}

func (c *Common) equal(o *Common) bool {
	if c.Kind != o.Kind || c.IssuerH8 != o.IssuerH8 || c.CracaID != o.CracaID || c.CrlSeries != o.CrlSeries ||
		c.ValidStart != o.ValidStart || c.ValidEnd != o.ValidEnd || !c.Region.Equal(o.Region) ||
		len(c.Psids) != len(o.Psids) {
		return false
	}
	for i := range c.Psids {
		if c.Psids[i] != o.Psids[i] {
			return false
		}
	}
	return true
}

func individualFrom(cert, priv []byte, subj model.SubjectID) (Individual, error) {
	if len(priv) != 32 {
		return Individual{}, model.Errorf(model.ErrInvalidArgument, "cmhf: private key must be 32 bytes, got %d", len(priv))
	}
	if len(cert) == 0 {
		return Individual{}, model.NewError(model.ErrInvalidArgument, "cmhf: empty certificate")
	}
	ind := Individual{
		Cert:     append([]byte(nil), cert...),
		CertHash: sha256Sum(cert),
		Subject:  subj,
		KeyType:  KeyECDSANistP256,
	}
	copy(ind.PrivateKey[:], priv)
	return ind, nil
}

// EncodeSequential builds a single-certificate container.
func EncodeSequential(kind Kind, issuerH8 model.HashedID8, cert, priv []byte, contents *model.CertificateContents) ([]byte, error) {
	if kind.Rotate() || !kind.Valid() {
		return nil, model.Errorf(model.ErrInvalidArgument, "cmhf: %s is not a sequential kind", kind)
	}
	if contents == nil {
		return nil, model.NewError(model.ErrInvalidArgument, "cmhf: nil contents")
	}
	ind, err := individualFrom(cert, priv, contents.Subject)
	if err != nil {
		return nil, err
	}
	return Encode(&Record{Common: commonFrom(kind, issuerH8, contents), Individuals: []Individual{ind}})
}

// EncodeRotate builds a container holding the jMax+1 certificates of period
// periodI. The common fields of every certificate must agree.
func EncodeRotate(kind Kind, periodI, jMax uint32, certs, privs [][]byte, contents []*model.CertificateContents, issuerH8 model.HashedID8) ([]byte, error) {
	if !kind.Rotate() {
		return nil, model.Errorf(model.ErrInvalidArgument, "cmhf: %s is not a rotate kind", kind)
	}
	n := int(jMax) + 1
	if jMax >= maxCertCount {
		return nil, model.Errorf(model.ErrLengthBounds, "cmhf: j_max %d too large", jMax)
	}
	if len(certs) != n || len(privs) != n || len(contents) != n {
		return nil, model.Errorf(model.ErrInvalidArgument, "cmhf: need %d certificates, keys and contents (got %d, %d, %d)",
			n, len(certs), len(privs), len(contents))
	}
	rec := &Record{PeriodI: periodI, Individuals: make([]Individual, 0, n)}
	for j := 0; j < n; j++ {
		if contents[j] == nil {
			return nil, model.Errorf(model.ErrInvalidArgument, "cmhf: nil contents at j=%d", j)
		}
		c := commonFrom(kind, issuerH8, contents[j])
		if j == 0 {
			rec.Common = c
		} else if !rec.Common.equal(&c) {
			return nil, model.Errorf(model.ErrInvalidArgument, "cmhf: common fields of j=%d differ from j=0", j)
		}
		ind, err := individualFrom(certs[j], privs[j], contents[j].Subject)
		if err != nil {
			return nil, err
		}
		rec.Individuals = append(rec.Individuals, ind)
	}
	return Encode(rec)
}

// Find returns the individual whose certificate bytes equal cert.
func (r *Record) Find(cert []byte) (Individual, bool) {
	for _, ind := range r.Individuals {
		if bytes.Equal(ind.Cert, cert) {
			return ind, true
		}
	}
	return Individual{}, false
}
