package cmh

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/v2xsec/cmhf"
	"xdao.co/v2xsec/internal/pki"
	"xdao.co/v2xsec/keyrecon"
	"xdao.co/v2xsec/model"
	"xdao.co/v2xsec/wire"
)

var window = model.ValidityPeriod{Start: 100 * model.Second, End: 100*model.Second + 24*3600*model.Second}

func newRoot(t *testing.T) *pki.Authority {
	t.Helper()
	root, err := pki.NewRoot(window, 32, 38)
	require.NoError(t, err)
	return root
}

func TestBuildSequentialAndSelect(t *testing.T) {
	root := newRoot(t)
	ee, err := root.IssueImplicit(model.CertificateContents{})
	require.NoError(t, err)

	b, err := BuildSequential(nil, SequentialInput{
		Kind:      cmhf.KindApplication,
		Issuer:    Issuer{Cert: root.Cert},
		Cert:      ee.Cert,
		InitPriv:  ee.InitPriv,
		PrivRecon: ee.PrivRecon,
	})
	require.NoError(t, err)

	s := NewStore(wire.Compact{}, nil)
	n, err := s.AddContainer(b)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c, err := s.Select(32, window.Start+model.Second)
	require.NoError(t, err)
	assert.Equal(t, ee.Key.Private, c.Private)
	assert.Equal(t, ee.Key.Public, c.Public)
	assert.Equal(t, ee.Hash, c.Hash)

	_, err = s.Select(99, window.Start+model.Second)
	assert.True(t, model.IsCode(err, model.ErrNoCredential))
	_, err = s.Select(32, window.End)
	assert.True(t, model.IsCode(err, model.ErrNoCredential))

	got, ok := s.Lookup(ee.Hash)
	require.True(t, ok)
	assert.Same(t, c, got)
}

func TestBuildSequentialRejectsWrongInitKey(t *testing.T) {
	root := newRoot(t)
	ee, err := root.IssueImplicit(model.CertificateContents{})
	require.NoError(t, err)
	wrong, err := keyrecon.RandomScalar(nil)
	require.NoError(t, err)

	_, err = BuildSequential(nil, SequentialInput{
		Kind: cmhf.KindApplication, Issuer: Issuer{Cert: root.Cert},
		Cert: ee.Cert, InitPriv: wrong, PrivRecon: ee.PrivRecon,
	})
	assert.True(t, model.IsCode(err, model.ErrInvalidCert), "got %v", err)
}

func butterflyDownload(t *testing.T, root *pki.Authority, i uint32, n int) (seed, key []byte, certs []ProvisionedCert) {
	t.Helper()
	seed, err := keyrecon.RandomScalar(nil)
	require.NoError(t, err)
	seedPub, err := keyrecon.PublicFromPrivate(seed)
	require.NoError(t, err)
	key = bytes.Repeat([]byte{0x42}, keyrecon.ExpansionKeySize)
	for j := n - 1; j >= 0; j-- {
		resp, err := root.IssueButterfly(model.CertificateContents{
			Subject: model.SubjectID{Kind: model.SubjectLinkage, ICert: uint16(i)},
		}, seedPub, key, i, uint32(j))
		require.NoError(t, err)
		certs = append(certs, ProvisionedCert{J: resp.J, Cert: resp.Cert, PrivRecon: resp.PrivRecon})
	}
	return seed, key, certs
}

func TestBuildRotateAndRotation(t *testing.T) {
	root := newRoot(t)
	seed, key, certs := butterflyDownload(t, root, 7, 3)

	b, err := BuildRotate(nil, RotateInput{
		Kind:         cmhf.KindPseudonym,
		I:            7,
		SeedPriv:     seed,
		ExpansionKey: key,
		Issuer:       Issuer{Cert: root.Cert},
		Certs:        certs,
		Params:       keyrecon.DefaultParams(),
	})
	require.NoError(t, err)

	rec, err := cmhf.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), rec.PeriodI)
	require.Len(t, rec.Individuals, 3)

	s := NewStore(nil, nil)
	s.RotationInterval = model.Second
	_, err = s.AddContainer(b)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())

	for step := uint64(0); step < 6; step++ {
		now := window.Start + model.Time64(step)*model.Second
		c, err := s.Select(32, now)
		require.NoError(t, err)
		want := uint32(uint64(now/model.Second) % 3)
		assert.Equal(t, want, c.J, "now=%d", now)

		pub, err := keyrecon.ReconstructPublic(c.Contents.VerifyKey.Point, c.Cert, root.Hash[:], root.Pub)
		require.NoError(t, err)
		assert.Equal(t, pub, c.Public)
	}
}

func TestBuildRotateValidation(t *testing.T) {
	root := newRoot(t)
	seed, key, certs := butterflyDownload(t, root, 1, 3)
	in := RotateInput{
		Kind: cmhf.KindPseudonym, I: 1, SeedPriv: seed, ExpansionKey: key,
		Issuer: Issuer{Cert: root.Cert}, Certs: certs, Params: keyrecon.Params{PseudonymJMax: 1},
	}
	_, err := BuildRotate(nil, in)
	assert.True(t, model.IsCode(err, model.ErrInvalidArgument), "j_max over policy")

	in.Params = keyrecon.DefaultParams()
	in.Certs = certs[:2]
	_, err = BuildRotate(nil, in)
	assert.True(t, model.IsCode(err, model.ErrInvalidArgument), "gap in slots")

	in.Certs = certs
	in.I = 2
	_, err = BuildRotate(nil, in)
	assert.True(t, model.IsCode(err, model.ErrInvalidCert), "wrong period")

	in.I = 1
	in.Kind = cmhf.KindApplication
	_, err = BuildRotate(nil, in)
	assert.True(t, model.IsCode(err, model.ErrInvalidArgument))
}

func TestPrune(t *testing.T) {
	root := newRoot(t)
	ee, err := root.IssueImplicit(model.CertificateContents{})
	require.NoError(t, err)
	b, err := BuildSequential(nil, SequentialInput{
		Kind: cmhf.KindIdentification, Issuer: Issuer{Cert: root.Cert},
		Cert: ee.Cert, InitPriv: ee.InitPriv, PrivRecon: ee.PrivRecon,
	})
	require.NoError(t, err)
	s := NewStore(nil, nil)
	_, err = s.AddContainer(b)
	require.NoError(t, err)

	assert.Equal(t, 0, s.Prune(window.Start))
	assert.Equal(t, 1, s.Prune(window.End))
	assert.Equal(t, 0, s.Len())
}

func TestAddContainerRejectsCorrupt(t *testing.T) {
	s := NewStore(nil, nil)
	_, err := s.AddContainer([]byte("CMHF-not-really"))
	assert.True(t, model.IsCode(err, model.ErrCorruptContainer))
}
