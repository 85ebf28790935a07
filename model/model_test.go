package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeClass(t *testing.T) {
	cases := map[Code]Class{
		OK:                         ClassNone,
		ErrCorruptContainer:        ClassMalformed,
		ErrInternal:                ClassMalformed,
		ErrSignerRevoked:           ClassPolicy,
		ErrMissingHeaderField:      ClassPolicy,
		ErrBadSignature:            ClassCrypto,
		ErrKeyReconstructionFailed: ClassCrypto,
		ErrTableFull:               ClassResource,
		ErrPending:                 ClassPending,
		ErrUnavailable:             ClassPending,
	}
	for code, want := range cases {
		assert.Equal(t, want, code.Class(), code.String())
	}
	assert.True(t, ErrPending.Retryable())
	assert.False(t, ErrBadSignature.Retryable())
}

func TestCodesAreUniqueAndNegative(t *testing.T) {
	seen := map[string]Code{}
	for code, name := range codeNames {
		if code != OK {
			assert.Less(t, int32(code), int32(0), name)
		}
		if prev, dup := seen[name]; dup {
			t.Fatalf("name %q used by %d and %d", name, prev, code)
		}
		seen[name] = code
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(ErrPending, "offload timed out", cause))

	assert.Equal(t, ErrPending, CodeOf(err))
	assert.True(t, IsCode(err, ErrPending))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, NewError(ErrPending, "")))
	assert.False(t, errors.Is(err, NewError(ErrReplay, "")))
	assert.Equal(t, ErrInternal, CodeOf(cause))
	assert.Equal(t, OK, CodeOf(nil))
}

func TestTimeConversions(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 5000, time.UTC)
	t64 := Time64From(ts)
	assert.True(t, ts.Truncate(time.Microsecond).Equal(t64.Time()))
	assert.Equal(t, Time64(0), Time64From(Epoch.Add(-time.Hour)))

	assert.Equal(t, Time32(90), (90*Second + 999*Millisecond).Time32())
	assert.Equal(t, 90*Second, Time32(90).Time64())
}

func TestValidityPeriodHalfOpen(t *testing.T) {
	v := ValidityPeriod{Start: 10, End: 20}
	assert.False(t, v.Contains(9))
	assert.True(t, v.Contains(10))
	assert.True(t, v.Contains(19))
	assert.False(t, v.Contains(20))
}

func TestCircularRegion(t *testing.T) {
	center := Location{Latitude: 423000000, Longitude: -834000000}
	r := Region{Kind: RegionCircular, Center: center, Radius: 1000}

	// 0.005 degrees of latitude is roughly 556 m.
	near := Location{Latitude: center.Latitude + 50000, Longitude: center.Longitude}
	far := Location{Latitude: center.Latitude + 200000, Longitude: center.Longitude}
	assert.True(t, r.Contains(near))
	assert.False(t, r.Contains(far))
	assert.InDelta(t, 556, DistanceMeters(center, near), 2)

	assert.True(t, Region{Kind: RegionCountries, Countries: []uint16{840}}.Contains(far))
	assert.True(t, Region{}.Contains(far))
}

func validContents() CertificateContents {
	return CertificateContents{
		Kind:           CertImplicit,
		Issuer:         IssuerID{Kind: IssuerDigest, Digest: HashedID8{1, 2, 3, 4, 5, 6, 7, 8}},
		Validity:       ValidityPeriod{Start: 0, End: Minute},
		AppPermissions: []Psid{32},
		VerifyKey:      VerificationKeyIndicator{Kind: ReconstructionValue, Point: make([]byte, CompressedPointSize)},
	}
}

func TestCertificateContentsValidate(t *testing.T) {
	c := validContents()
	require.NoError(t, c.Validate())
	assert.True(t, c.Permits(32))
	assert.False(t, c.Permits(33))

	c.Kind = CertExplicit
	assert.True(t, IsCode(c.Validate(), ErrInvalidCert))

	c = validContents()
	c.VerifyKey.Point = c.VerifyKey.Point[:32]
	assert.True(t, IsCode(c.Validate(), ErrInvalidPoint))

	c = validContents()
	c.AppPermissions = make([]Psid, MaxAppPermissions+1)
	assert.True(t, IsCode(c.Validate(), ErrLengthBounds))

	c = validContents()
	c.Validity = ValidityPeriod{Start: 5, End: 5}
	assert.True(t, IsCode(c.Validate(), ErrInvalidCert))
}

func TestSubjectIDEqual(t *testing.T) {
	a := SubjectID{Kind: SubjectLinkage, ICert: 3, Linkage: [9]byte{9}}
	b := a
	assert.True(t, a.Equal(b))
	b.ICert = 4
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(SubjectID{Kind: SubjectHostName}))
	assert.True(t, SubjectID{Kind: SubjectBinaryID, Binary: []byte{1}}.Equal(SubjectID{Kind: SubjectBinaryID, Binary: []byte{1}}))
}

func TestPsidBound(t *testing.T) {
	assert.True(t, MaxPsid.Valid())
	assert.False(t, (MaxPsid + 1).Valid())
}
