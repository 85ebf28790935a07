package cmhf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/v2xsec/model"
)

func contents(j int) *model.CertificateContents {
	return &model.CertificateContents{
		Kind:      model.CertImplicit,
		Subject:   model.SubjectID{Kind: model.SubjectLinkage, ICert: uint16(j), Linkage: [9]byte{byte(j), 1, 2, 3, 4, 5, 6, 7, 8}},
		CracaID:   model.HashedID3{0xca, 0xfe, 0x01},
		CrlSeries: 17,
		Validity:  model.ValidityPeriod{Start: 1000 * model.Second, End: 1000*model.Second + 7*24*3600*model.Second},
		Region: model.Region{
			Kind:   model.RegionCircular,
			Center: model.Location{Latitude: 423000000, Longitude: -834000000},
			Radius: 5000,
		},
		AppPermissions: []model.Psid{32, 38},
	}
}

func key(j int) []byte { return bytes.Repeat([]byte{byte(j + 1)}, 32) }

func cert(j int) []byte { return []byte(fmt.Sprintf("certificate-%02d", j)) }

var issuer = model.HashedID8{1, 2, 3, 4, 5, 6, 7, 8}

func TestSequentialRoundTrip(t *testing.T) {
	c := contents(0)
	c.Subject = model.SubjectID{Kind: model.SubjectHostName, HostName: "obu-7.example"}
	b, err := EncodeSequential(KindApplication, issuer, cert(0), key(0), c)
	require.NoError(t, err)
	assert.Equal(t, Magic, binary.BigEndian.Uint32(b))

	rec, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, KindApplication, rec.Kind)
	assert.Equal(t, issuer, rec.IssuerH8)
	assert.Equal(t, c.CracaID, rec.CracaID)
	assert.Equal(t, c.CrlSeries, rec.CrlSeries)
	assert.Equal(t, c.Validity, rec.Validity())
	assert.True(t, c.Region.Equal(rec.Region))
	assert.Equal(t, c.AppPermissions, rec.Psids)
	require.Len(t, rec.Individuals, 1)
	ind := rec.Individuals[0]
	assert.Equal(t, cert(0), ind.Cert)
	assert.Equal(t, key(0), ind.PrivateKey[:])
	assert.Equal(t, c.Subject, ind.Subject)

	again, err := Encode(rec)
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func rotateInputs(n int) (certs, privs [][]byte, cs []*model.CertificateContents) {
	for j := 0; j < n; j++ {
		certs = append(certs, cert(j))
		privs = append(privs, key(j))
		cs = append(cs, contents(j))
	}
	return certs, privs, cs
}

func TestRotateRoundTrip(t *testing.T) {
	const jMax = 20
	certs, privs, cs := rotateInputs(jMax + 1)
	b, err := EncodeRotate(KindPseudonym, 4242, jMax, certs, privs, cs, issuer)
	require.NoError(t, err)

	rec, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, KindPseudonym, rec.Kind)
	assert.Equal(t, uint32(4242), rec.PeriodI)
	require.Len(t, rec.Individuals, jMax+1)
	for j, ind := range rec.Individuals {
		assert.Equal(t, certs[j], ind.Cert, "j=%d", j)
		assert.Equal(t, privs[j], ind.PrivateKey[:], "j=%d", j)
		assert.Equal(t, cs[j].Subject, ind.Subject, "j=%d", j)
	}
	found, ok := rec.Find(certs[7])
	require.True(t, ok)
	assert.Equal(t, privs[7], found.PrivateKey[:])
}

func TestRecordRoundTripAllVariants(t *testing.T) {
	recs := []*Record{
		{
			Common: Common{Kind: KindEnrollment, ValidStart: 1, ValidEnd: 2},
			Individuals: []Individual{{
				Cert: []byte("e"), CertHash: sha256Sum([]byte("e")),
				Subject: model.SubjectID{Kind: model.SubjectBinaryID, Binary: []byte{0xde, 0xad}},
			}},
		},
		{
			Common: Common{
				Kind: KindIdentificationRotate, ValidStart: 10, ValidEnd: 20,
				Region: model.Region{Kind: model.RegionCountries, Countries: []uint16{124, 484, 840}},
				Psids:  []model.Psid{model.MaxPsid},
			},
			PeriodI: 9,
			Individuals: []Individual{
				{Cert: []byte("a"), CertHash: sha256Sum([]byte("a"))},
				{Cert: []byte("b"), CertHash: sha256Sum([]byte("b")), PrivateKey: [32]byte{1}},
			},
		},
	}
	for i, rec := range recs {
		b, err := Encode(rec)
		require.NoError(t, err, "record %d", i)
		back, err := Decode(b)
		require.NoError(t, err, "record %d", i)
		assert.Equal(t, rec, back, "record %d", i)
	}
}

func TestEverySingleByteFlipIsCorrupt(t *testing.T) {
	certs, privs, cs := rotateInputs(3)
	containers := map[string][]byte{}
	var err error
	containers["sequential"], err = EncodeSequential(KindIdentification, issuer, cert(0), key(0), contents(0))
	require.NoError(t, err)
	containers["rotate"], err = EncodeRotate(KindPseudonym, 1, 2, certs, privs, cs, issuer)
	require.NoError(t, err)

	for name, orig := range containers {
		for i := range orig {
			for _, mask := range []byte{0x01, 0x80, 0xff} {
				b := append([]byte(nil), orig...)
				b[i] ^= mask
				_, err := Decode(b)
				require.True(t, model.IsCode(err, model.ErrCorruptContainer),
					"%s: flip byte %d with %#x: got %v", name, i, mask, err)
			}
		}
	}
}

func TestDecodeRejectsTruncationAndExtension(t *testing.T) {
	b, err := EncodeSequential(KindApplication, issuer, cert(0), key(0), contents(0))
	require.NoError(t, err)
	for n := 0; n < len(b); n++ {
		_, err := Decode(b[:n])
		require.True(t, model.IsCode(err, model.ErrCorruptContainer), "length %d", n)
	}
	_, err = Decode(append(append([]byte(nil), b...), 0))
	assert.True(t, model.IsCode(err, model.ErrCorruptContainer))
}

func TestDecodeChecksStructureBehindValidDigest(t *testing.T) {
	// Re-seal a container whose cert_size overruns the buffer.
	b, err := EncodeSequential(KindApplication, issuer, cert(0), key(0), contents(0))
	require.NoError(t, err)
	body := append([]byte(nil), b[:len(b)-digestSize]...)
	rec, err := Decode(b)
	require.NoError(t, err)
	sizeOff := len(body) - len(rec.Individuals[0].Cert) - 32 - 32 - 2 - 2 - 9 - 2
	binary.BigEndian.PutUint16(body[sizeOff:], 0xffff)
	sum := sha256Sum(body)
	_, err = Decode(append(body, sum[:digestSize]...))
	assert.True(t, model.IsCode(err, model.ErrCorruptContainer), "got %v", err)
}

func TestEncodeRotateValidation(t *testing.T) {
	certs, privs, cs := rotateInputs(3)

	_, err := EncodeRotate(KindPseudonym, 1, 3, certs, privs, cs, issuer)
	assert.True(t, model.IsCode(err, model.ErrInvalidArgument), "count mismatch")

	_, err = EncodeRotate(KindApplication, 1, 2, certs, privs, cs, issuer)
	assert.True(t, model.IsCode(err, model.ErrInvalidArgument), "sequential kind")

	cs[2].CrlSeries++
	_, err = EncodeRotate(KindPseudonym, 1, 2, certs, privs, cs, issuer)
	assert.True(t, model.IsCode(err, model.ErrInvalidArgument), "common mismatch")

	_, err = EncodeSequential(KindPseudonym, issuer, cert(0), key(0), contents(0))
	assert.True(t, model.IsCode(err, model.ErrInvalidArgument))
	_, err = EncodeSequential(KindApplication, issuer, cert(0), key(0)[:31], contents(0))
	assert.True(t, model.IsCode(err, model.ErrInvalidArgument))
}
