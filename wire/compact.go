package wire

import (
	"golang.org/x/crypto/cryptobyte"

	"xdao.co/v2xsec/model"
)

// Compact is a big-endian, length-prefixed encoding of the model structs.
//
// Every variable-length field carries an explicit prefix so the decoder never
// reads past a field boundary.
type Compact struct{}

var _ Codec = Compact{}

const (
	hdrGenTime  = 1 << 0
	hdrExpTime  = 1 << 1
	hdrLocation = 1 << 2
	hdrKnown    = hdrGenTime | hdrExpTime | hdrLocation
)

func malformed(what string) error {
	return model.Errorf(model.ErrMalformed, "wire: truncated or invalid %s", what)
}

func encodeErr(err error) error {
	if err == nil {
		return nil
	}
	if model.CodeOf(err) != model.ErrInternal {
		return err
	}
	return model.Wrap(model.ErrLengthBounds, "wire: encode", err)
}

// Certificates

func (Compact) EncodeCertificate(c *model.Certificate) ([]byte, error) {
	if c == nil {
		return nil, model.NewError(model.ErrInvalidArgument, "wire: nil certificate")
	}
	if err := c.Contents.Validate(); err != nil {
		return nil, err
	}
	var b cryptobyte.Builder
	b.AddUint8(model.ProtocolVersion)
	addContents(&b, &c.Contents)
	if c.Signature == nil {
		b.AddUint8(0)
	} else {
		b.AddUint8(1)
		addSignature(&b, c.Signature)
	}
	out, err := b.Bytes()
	return out, encodeErr(err)
}

func (Compact) DecodeCertificate(raw []byte) (*model.Certificate, error) {
	s := cryptobyte.String(raw)
	var version uint8
	if !s.ReadUint8(&version) {
		return nil, malformed("certificate version")
	}
	if version != model.ProtocolVersion {
		return nil, model.Errorf(model.ErrUnsupported, "wire: certificate version %d", version)
	}
	c := &model.Certificate{}
	if err := readContents(&s, &c.Contents); err != nil {
		return nil, err
	}
	var hasSig uint8
	if !s.ReadUint8(&hasSig) || hasSig > 1 {
		return nil, malformed("certificate signature flag")
	}
	if hasSig == 1 {
		sig, err := readSignature(&s)
		if err != nil {
			return nil, err
		}
		c.Signature = &sig
	}
	if !s.Empty() {
		return nil, malformed("certificate (trailing bytes)")
	}
	if err := c.Contents.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func addContents(b *cryptobyte.Builder, c *model.CertificateContents) {
	b.AddUint8(uint8(c.Kind))

	b.AddUint8(uint8(c.Issuer.Kind))
	b.AddUint8(uint8(c.Issuer.HashAlg))
	if c.Issuer.Kind == model.IssuerDigest {
		b.AddBytes(c.Issuer.Digest[:])
	}

	AddSubject(b, c.Subject)

	b.AddBytes(c.CracaID[:])
	b.AddUint16(c.CrlSeries)
	b.AddUint64(uint64(c.Validity.Start))
	b.AddUint64(uint64(c.Validity.End))

	b.AddUint8(uint8(c.Region.Kind))
	switch c.Region.Kind {
	case model.RegionCircular:
		addLocation(b, c.Region.Center)
		b.AddUint16(c.Region.Radius)
	case model.RegionCountries:
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, cc := range c.Region.Countries {
				b.AddUint16(cc)
			}
		})
	}

	b.AddUint8(uint8(len(c.AppPermissions)))
	for _, p := range c.AppPermissions {
		b.AddUint32(uint32(p))
	}

	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(c.EncryptionKey) })

	b.AddUint8(uint8(c.VerifyKey.Kind))
	b.AddBytes(c.VerifyKey.Point)
}

func readContents(s *cryptobyte.String, c *model.CertificateContents) error {
	var kind, issuerKind, hashAlg uint8
	if !s.ReadUint8(&kind) || !s.ReadUint8(&issuerKind) || !s.ReadUint8(&hashAlg) {
		return malformed("certificate header")
	}
	c.Kind = model.CertKind(kind)
	c.Issuer.Kind = model.IssuerKind(issuerKind)
	c.Issuer.HashAlg = model.HashAlgorithm(hashAlg)
	switch c.Issuer.Kind {
	case model.IssuerSelf:
	case model.IssuerDigest:
		if !s.CopyBytes(c.Issuer.Digest[:]) {
			return malformed("issuer digest")
		}
	default:
		return malformed("issuer kind")
	}

	subj, err := ReadSubject(s)
	if err != nil {
		return err
	}
	c.Subject = subj

	var start, end uint64
	if !s.CopyBytes(c.CracaID[:]) || !s.ReadUint16(&c.CrlSeries) || !s.ReadUint64(&start) || !s.ReadUint64(&end) {
		return malformed("certificate validity")
	}
	c.Validity = model.ValidityPeriod{Start: model.Time64(start), End: model.Time64(end)}

	var regionKind uint8
	if !s.ReadUint8(&regionKind) {
		return malformed("region kind")
	}
	c.Region = model.Region{Kind: model.RegionKind(regionKind)}
	switch c.Region.Kind {
	case model.RegionNone:
	case model.RegionCircular:
		loc, ok := readLocation(s)
		if !ok || !s.ReadUint16(&c.Region.Radius) {
			return malformed("circular region")
		}
		c.Region.Center = loc
	case model.RegionCountries:
		var list cryptobyte.String
		if !s.ReadUint8LengthPrefixed(&list) || len(list)%2 != 0 {
			return malformed("country list")
		}
		for !list.Empty() {
			var cc uint16
			list.ReadUint16(&cc)
			c.Region.Countries = append(c.Region.Countries, cc)
		}
	default:
		return malformed("region kind")
	}

	var nperm uint8
	if !s.ReadUint8(&nperm) {
		return malformed("permission count")
	}
	if int(nperm) > model.MaxAppPermissions {
		return model.Errorf(model.ErrLengthBounds, "wire: %d application permissions", nperm)
	}
	for i := 0; i < int(nperm); i++ {
		var p uint32
		if !s.ReadUint32(&p) {
			return malformed("application permission")
		}
		c.AppPermissions = append(c.AppPermissions, model.Psid(p))
	}

	var enc cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&enc) {
		return malformed("encryption key")
	}
	if len(enc) > 0 {
		c.EncryptionKey = append([]byte(nil), enc...)
	}

	var keyKind uint8
	point := make([]byte, model.CompressedPointSize)
	if !s.ReadUint8(&keyKind) || !s.CopyBytes(point) {
		return malformed("verification key indicator")
	}
	c.VerifyKey = model.VerificationKeyIndicator{Kind: model.KeyKind(keyKind), Point: point}
	return nil
}

// AddSubject appends the compact subject encoding: kind byte, then the
// variant payload. The same payload layout is used by the CMHF container.
func AddSubject(b *cryptobyte.Builder, subj model.SubjectID) {
	b.AddUint8(uint8(subj.Kind))
	AddSubjectPayload(b, subj)
}

// AddSubjectPayload appends only the variant payload of subj.
func AddSubjectPayload(b *cryptobyte.Builder, subj model.SubjectID) {
	switch subj.Kind {
	case model.SubjectLinkage:
		b.AddUint16(subj.ICert)
		b.AddBytes(subj.Linkage[:])
	case model.SubjectHostName:
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte(subj.HostName)) })
	case model.SubjectBinaryID:
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(subj.Binary) })
	}
}

// ReadSubject is the inverse of AddSubject.
func ReadSubject(s *cryptobyte.String) (model.SubjectID, error) {
	var kind uint8
	if !s.ReadUint8(&kind) {
		return model.SubjectID{}, malformed("subject kind")
	}
	return ReadSubjectPayload(s, model.SubjectKind(kind))
}

// ReadSubjectPayload reads the variant payload for a subject of the given kind.
func ReadSubjectPayload(s *cryptobyte.String, kind model.SubjectKind) (model.SubjectID, error) {
	subj := model.SubjectID{Kind: kind}
	switch kind {
	case model.SubjectNone:
	case model.SubjectLinkage:
		if !s.ReadUint16(&subj.ICert) || !s.CopyBytes(subj.Linkage[:]) {
			return subj, malformed("linkage subject")
		}
	case model.SubjectHostName:
		var v cryptobyte.String
		if !s.ReadUint8LengthPrefixed(&v) {
			return subj, malformed("host name subject")
		}
		subj.HostName = string(v)
	case model.SubjectBinaryID:
		var v cryptobyte.String
		if !s.ReadUint8LengthPrefixed(&v) {
			return subj, malformed("binary subject")
		}
		subj.Binary = append([]byte(nil), v...)
	default:
		return subj, malformed("subject kind")
	}
	return subj, nil
}

func addLocation(b *cryptobyte.Builder, l model.Location) {
	b.AddUint32(uint32(l.Latitude))
	b.AddUint32(uint32(l.Longitude))
	b.AddUint16(l.Elevation)
}

func readLocation(s *cryptobyte.String) (model.Location, bool) {
	var lat, lon uint32
	var elev uint16
	if !s.ReadUint32(&lat) || !s.ReadUint32(&lon) || !s.ReadUint16(&elev) {
		return model.Location{}, false
	}
	return model.Location{Latitude: int32(lat), Longitude: int32(lon), Elevation: elev}, true
}

func addSignature(b *cryptobyte.Builder, sig *model.Signature) {
	b.AddUint8(uint8(sig.Mode))
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(sig.R) })
	b.AddBytes(sig.S[:])
}

func readSignature(s *cryptobyte.String) (model.Signature, error) {
	var sig model.Signature
	var mode uint8
	var r cryptobyte.String
	if !s.ReadUint8(&mode) || !s.ReadUint8LengthPrefixed(&r) || !s.CopyBytes(sig.S[:]) {
		return sig, malformed("signature")
	}
	sig.Mode = model.PointMode(mode)
	switch sig.Mode {
	case model.PointXOnly:
		if len(r) != 32 {
			return sig, malformed("x-only signature r")
		}
	case model.PointCompressed:
		if len(r) != model.CompressedPointSize {
			return sig, malformed("compressed signature r")
		}
	default:
		return sig, malformed("signature point mode")
	}
	sig.R = append([]byte(nil), r...)
	return sig, nil
}

// SPDUs

func addHeader(b *cryptobyte.Builder, h *model.HeaderInfo) {
	b.AddUint32(uint32(h.Psid))
	var flags uint8
	if h.GenerationTime != nil {
		flags |= hdrGenTime
	}
	if h.ExpiryTime != nil {
		flags |= hdrExpTime
	}
	if h.GenerationLocation != nil {
		flags |= hdrLocation
	}
	b.AddUint8(flags)
	if h.GenerationTime != nil {
		b.AddUint64(uint64(*h.GenerationTime))
	}
	if h.ExpiryTime != nil {
		b.AddUint64(uint64(*h.ExpiryTime))
	}
	if h.GenerationLocation != nil {
		addLocation(b, *h.GenerationLocation)
	}
}

func readHeader(s *cryptobyte.String) (model.HeaderInfo, error) {
	var h model.HeaderInfo
	var psid uint32
	var flags uint8
	if !s.ReadUint32(&psid) || !s.ReadUint8(&flags) {
		return h, malformed("header")
	}
	if flags&^hdrKnown != 0 {
		return h, malformed("header flags")
	}
	h.Psid = model.Psid(psid)
	if !h.Psid.Valid() {
		return h, model.Errorf(model.ErrMalformed, "wire: psid %d out of range", psid)
	}
	if flags&hdrGenTime != 0 {
		var v uint64
		if !s.ReadUint64(&v) {
			return h, malformed("generation time")
		}
		t := model.Time64(v)
		h.GenerationTime = &t
	}
	if flags&hdrExpTime != 0 {
		var v uint64
		if !s.ReadUint64(&v) {
			return h, malformed("expiry time")
		}
		t := model.Time64(v)
		h.ExpiryTime = &t
	}
	if flags&hdrLocation != 0 {
		loc, ok := readLocation(s)
		if !ok {
			return h, malformed("generation location")
		}
		h.GenerationLocation = &loc
	}
	return h, nil
}

func addTBS(b *cryptobyte.Builder, tbs *model.ToBeSignedData) {
	b.AddUint32LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(tbs.Payload) })
	addHeader(b, &tbs.Header)
}

func (Compact) EncodeToBeSigned(tbs *model.ToBeSignedData) ([]byte, error) {
	if tbs == nil {
		return nil, model.NewError(model.ErrInvalidArgument, "wire: nil to-be-signed data")
	}
	var b cryptobyte.Builder
	addTBS(&b, tbs)
	out, err := b.Bytes()
	return out, encodeErr(err)
}

func (Compact) EncodeData(d *model.Data) ([]byte, error) {
	if d == nil {
		return nil, model.NewError(model.ErrInvalidArgument, "wire: nil data")
	}
	var b cryptobyte.Builder
	b.AddUint8(model.ProtocolVersion)
	b.AddUint8(uint8(d.Content))
	switch d.Content {
	case model.ContentUnsecured:
		b.AddUint32LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(d.Unsecured) })
	case model.ContentSigned:
		sd := d.Signed
		if sd == nil {
			return nil, model.NewError(model.ErrInvalidArgument, "wire: signed content without signed data")
		}
		b.AddUint8(uint8(sd.HashAlg))
		addTBS(&b, &sd.TBS)
		b.AddUint8(uint8(sd.Signer.Kind))
		switch sd.Signer.Kind {
		case model.SignerDigest:
			b.AddBytes(sd.Signer.Digest[:])
		case model.SignerCertificate:
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(sd.Signer.Certificate) })
		default:
			return nil, model.Errorf(model.ErrInvalidArgument, "wire: signer kind %d", sd.Signer.Kind)
		}
		addSignature(&b, &sd.Signature)
	default:
		return nil, model.Errorf(model.ErrUnsupported, "wire: content kind %d", d.Content)
	}
	out, err := b.Bytes()
	return out, encodeErr(err)
}

// readUint32LengthPrefixed reads a uint32 length followed by that many bytes.
func readUint32LengthPrefixed(s *cryptobyte.String, out *cryptobyte.String) bool {
	var n uint32
	var b []byte
	if !s.ReadUint32(&n) || !s.ReadBytes(&b, int(n)) {
		return false
	}
	*out = b
	return true
}

func (Compact) DecodeData(raw []byte) (*model.Data, error) {
	s := cryptobyte.String(raw)
	var version, content uint8
	if !s.ReadUint8(&version) || !s.ReadUint8(&content) {
		return nil, malformed("data header")
	}
	if version != model.ProtocolVersion {
		return nil, model.Errorf(model.ErrUnsupported, "wire: protocol version %d", version)
	}
	d := &model.Data{Version: version, Content: model.ContentKind(content)}
	switch d.Content {
	case model.ContentUnsecured:
		var payload cryptobyte.String
		if !readUint32LengthPrefixed(&s, &payload) {
			return nil, malformed("unsecured payload")
		}
		d.Unsecured = append([]byte(nil), payload...)
	case model.ContentSigned:
		sd := &model.SignedData{}
		var hashAlg uint8
		var payload cryptobyte.String
		if !s.ReadUint8(&hashAlg) || !readUint32LengthPrefixed(&s, &payload) {
			return nil, malformed("signed data")
		}
		sd.HashAlg = model.HashAlgorithm(hashAlg)
		if sd.HashAlg != model.SHA256 && sd.HashAlg != model.SHA384 {
			return nil, malformed("hash algorithm")
		}
		sd.TBS.Payload = append([]byte(nil), payload...)
		h, err := readHeader(&s)
		if err != nil {
			return nil, err
		}
		sd.TBS.Header = h

		var signerKind uint8
		if !s.ReadUint8(&signerKind) {
			return nil, malformed("signer kind")
		}
		sd.Signer.Kind = model.SignerKind(signerKind)
		switch sd.Signer.Kind {
		case model.SignerDigest:
			if !s.CopyBytes(sd.Signer.Digest[:]) {
				return nil, malformed("signer digest")
			}
		case model.SignerCertificate:
			var cert cryptobyte.String
			if !s.ReadUint16LengthPrefixed(&cert) || len(cert) == 0 {
				return nil, malformed("signer certificate")
			}
			sd.Signer.Certificate = append([]byte(nil), cert...)
		default:
			return nil, malformed("signer kind")
		}
		sig, err := readSignature(&s)
		if err != nil {
			return nil, err
		}
		sd.Signature = sig
		d.Signed = sd
	default:
		return nil, model.Errorf(model.ErrUnsupported, "wire: content kind %d", content)
	}
	if !s.Empty() {
		return nil, malformed("data (trailing bytes)")
	}
	return d, nil
}
