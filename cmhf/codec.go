package cmhf

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/cryptobyte"

	"xdao.co/v2xsec/model"
	"xdao.co/v2xsec/wire"
)

const (
	digestSize   = 8
	maxCertCount = 255
	maxPsids     = 255
	maxCertSize  = 0xffff
)

func sha256Sum(b []byte) [32]byte { return sha256.Sum256(b) }

func corrupt(what string) error {
	return model.Errorf(model.ErrCorruptContainer, "cmhf: %s", what)
}

// Encode serializes rec and appends the integrity digest.
func Encode(rec *Record) ([]byte, error) {
	if rec == nil {
		return nil, model.NewError(model.ErrInvalidArgument, "cmhf: nil record")
	}
	if !rec.Kind.Valid() {
		return nil, model.Errorf(model.ErrInvalidArgument, "cmhf: invalid kind %d", rec.Kind)
	}
	if len(rec.Psids) > maxPsids {
		return nil, model.Errorf(model.ErrLengthBounds, "cmhf: %d psids", len(rec.Psids))
	}
	switch {
	case len(rec.Individuals) == 0:
		return nil, model.NewError(model.ErrInvalidArgument, "cmhf: no certificates")
	case !rec.Kind.Rotate() && len(rec.Individuals) != 1:
		return nil, model.Errorf(model.ErrInvalidArgument, "cmhf: %s container holds exactly one certificate", rec.Kind)
	case len(rec.Individuals) > maxCertCount:
		return nil, model.Errorf(model.ErrLengthBounds, "cmhf: %d certificates", len(rec.Individuals))
	}

	var b cryptobyte.Builder
	b.AddUint32(Magic)
	b.AddUint8(uint8(rec.Kind))
	b.AddBytes(rec.IssuerH8[:])
	b.AddBytes(rec.CracaID[:])
	b.AddUint16(rec.CrlSeries)
	b.AddUint32(uint32(rec.ValidStart))
	b.AddUint32(uint32(rec.ValidEnd))
	b.AddUint8(uint8(rec.Region.Kind))
	b.AddUint8(uint8(len(rec.Psids)))
	for _, p := range rec.Psids {
		b.AddUint32(uint32(p))
	}
	switch rec.Region.Kind {
	case model.RegionNone:
	case model.RegionCircular:
		b.AddUint32(uint32(rec.Region.Center.Latitude))
		b.AddUint32(uint32(rec.Region.Center.Longitude))
		b.AddUint16(rec.Region.Radius)
	case model.RegionCountries:
		if len(rec.Region.Countries) > 0xff {
			return nil, model.Errorf(model.ErrLengthBounds, "cmhf: %d countries", len(rec.Region.Countries))
		}
		b.AddUint8(uint8(len(rec.Region.Countries)))
		for _, c := range rec.Region.Countries {
			b.AddUint16(c)
		}
	default:
		return nil, model.Errorf(model.ErrInvalidArgument, "cmhf: region kind %d", rec.Region.Kind)
	}
	if rec.Kind.Rotate() {
		b.AddUint32(rec.PeriodI)
		b.AddUint8(uint8(len(rec.Individuals)))
	}
	for i := range rec.Individuals {
		ind := &rec.Individuals[i]
		if len(ind.Cert) == 0 || len(ind.Cert) > maxCertSize {
			return nil, model.Errorf(model.ErrLengthBounds, "cmhf: certificate %d of %d bytes", i, len(ind.Cert))
		}
		b.AddUint16(uint16(len(ind.Cert)))
		b.AddBytes(ind.CertHash[:])
		b.AddUint8(uint8(ind.Subject.Kind))
		b.AddUint8(uint8(ind.KeyType))
		b.AddBytes(ind.PrivateKey[:])
		wire.AddSubjectPayload(&b, ind.Subject)
		b.AddBytes(ind.Cert)
	}
	body, err := b.Bytes()
	if err != nil {
		return nil, model.Wrap(model.ErrLengthBounds, "cmhf: encode", err)
	}
	sum := sha256.Sum256(body)
	return append(body, sum[:digestSize]...), nil
}

// Decode parses and integrity-checks a container.
func Decode(data []byte) (*Record, error) {
	if len(data) < 4+digestSize {
		return nil, corrupt("container too short")
	}
	if binary.BigEndian.Uint32(data) != Magic {
		return nil, corrupt("bad magic")
	}
	body, h8 := data[:len(data)-digestSize], data[len(data)-digestSize:]
	sum := sha256.Sum256(body)
	if !bytes.Equal(sum[:digestSize], h8) {
		return nil, corrupt("integrity digest mismatch")
	}

	s := cryptobyte.String(body[4:])
	rec := &Record{}
	var kind, regionKind, npsid uint8
	var start, end uint32
	if !s.ReadUint8(&kind) ||
		!s.CopyBytes(rec.IssuerH8[:]) ||
		!s.CopyBytes(rec.CracaID[:]) ||
		!s.ReadUint16(&rec.CrlSeries) ||
		!s.ReadUint32(&start) ||
		!s.ReadUint32(&end) ||
		!s.ReadUint8(&regionKind) ||
		!s.ReadUint8(&npsid) {
		return nil, corrupt("truncated common info")
	}
	rec.Kind = Kind(kind)
	if !rec.Kind.Valid() {
		return nil, corrupt("unknown cmh_type")
	}
	rec.ValidStart, rec.ValidEnd = model.Time32(start), model.Time32(end)
	for i := 0; i < int(npsid); i++ {
		var p uint32
		if !s.ReadUint32(&p) {
			return nil, corrupt("truncated psid list")
		}
		rec.Psids = append(rec.Psids, model.Psid(p))
	}

	rec.Region.Kind = model.RegionKind(regionKind)
	switch rec.Region.Kind {
	case model.RegionNone:
	case model.RegionCircular:
		var lat, lon uint32
		if !s.ReadUint32(&lat) || !s.ReadUint32(&lon) || !s.ReadUint16(&rec.Region.Radius) {
			return nil, corrupt("truncated circular region")
		}
		rec.Region.Center = model.Location{Latitude: int32(lat), Longitude: int32(lon)}
	case model.RegionCountries:
		var n uint8
		if !s.ReadUint8(&n) {
			return nil, corrupt("truncated country region")
		}
		for i := 0; i < int(n); i++ {
			var c uint16
			if !s.ReadUint16(&c) {
				return nil, corrupt("truncated country region")
			}
			rec.Region.Countries = append(rec.Region.Countries, c)
		}
	default:
		return nil, corrupt("unknown region_type")
	}

	count := 1
	if rec.Kind.Rotate() {
		var n uint8
		if !s.ReadUint32(&rec.PeriodI) || !s.ReadUint8(&n) {
			return nil, corrupt("truncated rotate header")
		}
		if n == 0 {
			return nil, corrupt("empty rotate set")
		}
		count = int(n)
	}

	rec.Individuals = make([]Individual, 0, count)
	for i := 0; i < count; i++ {
		var ind Individual
		var size uint16
		var subjKind, keyType uint8
		if !s.ReadUint16(&size) ||
			!s.CopyBytes(ind.CertHash[:]) ||
			!s.ReadUint8(&subjKind) ||
			!s.ReadUint8(&keyType) ||
			!s.CopyBytes(ind.PrivateKey[:]) {
			return nil, corrupt("truncated individual info")
		}
		ind.KeyType = KeyType(keyType)
		if ind.KeyType != KeyECDSANistP256 {
			return nil, corrupt("unknown key_type")
		}
		subj, err := wire.ReadSubjectPayload(&s, model.SubjectKind(subjKind))
		if err != nil {
			return nil, model.Wrap(model.ErrCorruptContainer, "cmhf: subject id", err)
		}
		ind.Subject = subj
		if size == 0 {
			return nil, corrupt("empty certificate")
		}
		var cert []byte
		if !s.ReadBytes(&cert, int(size)) {
			return nil, corrupt("certificate exceeds container")
		}
		if sha256.Sum256(cert) != ind.CertHash {
			return nil, corrupt("certificate hash mismatch")
		}
		ind.Cert = append([]byte(nil), cert...)
		rec.Individuals = append(rec.Individuals, ind)
	}
	if !s.Empty() {
		return nil, corrupt("trailing bytes before digest")
	}
	return rec, nil
}
