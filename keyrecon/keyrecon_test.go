package keyrecon

import (
	"bytes"
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/v2xsec/model"
)

type issuer struct {
	priv, pub []byte
	hash      []byte
}

func newIssuer(t *testing.T) issuer {
	t.Helper()
	priv, err := RandomScalar(nil)
	require.NoError(t, err)
	pub, err := PublicFromPrivate(priv)
	require.NoError(t, err)
	h := sha256.Sum256(append([]byte("issuer-cert:"), pub...))
	return issuer{priv: priv, pub: pub, hash: h[:]}
}

func fakeCert(reconPoint []byte) ([]byte, error) {
	return append([]byte("cert:"), reconPoint...), nil
}

func TestReconstructSequential(t *testing.T) {
	ca := newIssuer(t)
	k, err := RandomScalar(nil)
	require.NoError(t, err)
	ru, err := PublicFromPrivate(k)
	require.NoError(t, err)

	iss, err := Issue(nil, ca.priv, ru, ca.hash, fakeCert)
	require.NoError(t, err)

	kp, err := ReconstructSequential(SequentialInput{
		InitPriv:   k,
		PrivRecon:  iss.PrivRecon,
		Cert:       iss.Cert,
		ReconPoint: iss.ReconPoint,
		IssuerHash: ca.hash,
		IssuerPub:  ca.pub,
	})
	require.NoError(t, err)
	require.Len(t, kp.Private, ScalarSize)
	require.Len(t, kp.Public, model.CompressedPointSize)

	pub, err := PublicFromPrivate(kp.Private)
	require.NoError(t, err)
	assert.Equal(t, pub, kp.Public)

	q, err := ReconstructPublic(iss.ReconPoint, iss.Cert, ca.hash, ca.pub)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, q)
}

func TestReconstructSequential_WrongIssuerIsInvalidCert(t *testing.T) {
	ca := newIssuer(t)
	other := newIssuer(t)
	k, _ := RandomScalar(nil)
	ru, _ := PublicFromPrivate(k)
	iss, err := Issue(nil, ca.priv, ru, ca.hash, fakeCert)
	require.NoError(t, err)

	_, err = ReconstructSequential(SequentialInput{
		InitPriv: k, PrivRecon: iss.PrivRecon, Cert: iss.Cert,
		ReconPoint: iss.ReconPoint, IssuerHash: ca.hash, IssuerPub: other.pub,
	})
	assert.True(t, model.IsCode(err, model.ErrInvalidCert), "got %v", err)

	// Without an issuer key nothing can be cross-checked.
	_, err = ReconstructSequential(SequentialInput{
		InitPriv: k, PrivRecon: iss.PrivRecon, Cert: iss.Cert,
		ReconPoint: iss.ReconPoint, IssuerHash: ca.hash,
	})
	assert.NoError(t, err)
}

func TestReconstructSequential_TamperedCertIsInvalidCert(t *testing.T) {
	ca := newIssuer(t)
	k, _ := RandomScalar(nil)
	ru, _ := PublicFromPrivate(k)
	iss, err := Issue(nil, ca.priv, ru, ca.hash, fakeCert)
	require.NoError(t, err)

	cert := append([]byte(nil), iss.Cert...)
	cert[0] ^= 1
	_, err = ReconstructSequential(SequentialInput{
		InitPriv: k, PrivRecon: iss.PrivRecon, Cert: cert,
		ReconPoint: iss.ReconPoint, IssuerHash: ca.hash, IssuerPub: ca.pub,
	})
	assert.True(t, model.IsCode(err, model.ErrInvalidCert), "got %v", err)
}

func TestReconstructSequential_ZeroKeyIsKeyMismatch(t *testing.T) {
	ca := newIssuer(t)
	k, err := RandomScalar(nil)
	require.NoError(t, err)
	cert := []byte("certificate")

	// r = -e·k mod n makes the derived private key zero.
	r := new(big.Int).Mul(HashBinding(cert, ca.hash), new(big.Int).SetBytes(k))
	r.Neg(r).Mod(r, order)
	_, err = ReconstructSequential(SequentialInput{
		InitPriv: k, PrivRecon: scalarBytes(r), Cert: cert,
		ReconPoint: ca.pub, IssuerHash: ca.hash,
	})
	assert.True(t, model.IsCode(err, model.ErrKeyMismatch), "got %v", err)
}

func TestReconstructSequential_BadReconPointIsInvalidCert(t *testing.T) {
	ca := newIssuer(t)
	k, _ := RandomScalar(nil)
	r, _ := RandomScalar(nil)

	offCurve := append([]byte{0x02}, bytes.Repeat([]byte{0xff}, 32)...)
	for name, point := range map[string][]byte{
		"identity":  {0x00},
		"off-curve": offCurve,
		"short":     {0x02, 0x01},
	} {
		_, err := ReconstructSequential(SequentialInput{
			InitPriv: k, PrivRecon: r, Cert: []byte("c"),
			ReconPoint: point, IssuerHash: ca.hash, IssuerPub: ca.pub,
		})
		assert.True(t, model.IsCode(err, model.ErrInvalidCert), "%s: got %v", name, err)
	}
}

func TestReconstructSequential_RejectsUnreducedScalars(t *testing.T) {
	_, err := ReconstructSequential(SequentialInput{InitPriv: bytes.Repeat([]byte{0xff}, 32)})
	assert.True(t, model.IsCode(err, model.ErrInvalidArgument))
	_, err = ReconstructSequential(SequentialInput{InitPriv: []byte{1}})
	assert.True(t, model.IsCode(err, model.ErrInvalidArgument))
}

func TestButterflyMatchesSequential(t *testing.T) {
	ca := newIssuer(t)
	seed, err := RandomScalar(nil)
	require.NoError(t, err)
	seedPub, err := PublicFromPrivate(seed)
	require.NoError(t, err)
	key := bytes.Repeat([]byte{0x5a}, ExpansionKeySize)

	for _, ij := range [][2]uint32{{0, 0}, {7, 3}, {1234, 20}} {
		i, j := ij[0], ij[1]
		b, err := ExpandPublic(seedPub, key, i, j)
		require.NoError(t, err)
		iss, err := Issue(nil, ca.priv, b, ca.hash, fakeCert)
		require.NoError(t, err)

		kp, err := ReconstructButterfly(ButterflyInput{
			I: i, J: j, ExpansionKey: key, SeedPriv: seed,
			PrivRecon: iss.PrivRecon, Cert: iss.Cert, ReconPoint: iss.ReconPoint,
			IssuerHash: ca.hash, IssuerPub: ca.pub,
		})
		require.NoError(t, err, "i=%d j=%d", i, j)

		derived, err := DeriveSeed(seed, key, i, j)
		require.NoError(t, err)
		seq, err := ReconstructSequential(SequentialInput{
			InitPriv: derived, PrivRecon: iss.PrivRecon, Cert: iss.Cert,
			ReconPoint: iss.ReconPoint, IssuerHash: ca.hash, IssuerPub: ca.pub,
		})
		require.NoError(t, err)
		assert.Equal(t, seq, kp)

		pub, err := PublicFromPrivate(kp.Private)
		require.NoError(t, err)
		assert.Equal(t, pub, kp.Public)
	}
}

func TestButterflyWrongSlotFails(t *testing.T) {
	ca := newIssuer(t)
	seed, _ := RandomScalar(nil)
	seedPub, _ := PublicFromPrivate(seed)
	key := bytes.Repeat([]byte{0x11}, ExpansionKeySize)

	b, err := ExpandPublic(seedPub, key, 5, 1)
	require.NoError(t, err)
	iss, err := Issue(nil, ca.priv, b, ca.hash, fakeCert)
	require.NoError(t, err)

	_, err = ReconstructButterfly(ButterflyInput{
		I: 5, J: 2, ExpansionKey: key, SeedPriv: seed,
		PrivRecon: iss.PrivRecon, Cert: iss.Cert, ReconPoint: iss.ReconPoint,
		IssuerHash: ca.hash, IssuerPub: ca.pub,
	})
	assert.True(t, model.IsCode(err, model.ErrInvalidCert), "got %v", err)
}

func TestExpand(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, ExpansionKeySize)
	a, err := Expand(key, 1, 2, UsageSigning)
	require.NoError(t, err)
	again, err := Expand(key, 1, 2, UsageSigning)
	require.NoError(t, err)
	assert.Equal(t, a, again)
	assert.Len(t, a, ScalarSize)

	enc, err := Expand(key, 1, 2, UsageEncryption)
	require.NoError(t, err)
	assert.NotEqual(t, a, enc)

	other, err := Expand(key, 1, 3, UsageSigning)
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	_, err = Expand(key[:8], 1, 2, UsageSigning)
	assert.True(t, model.IsCode(err, model.ErrInvalidArgument))
}

func TestParamsCheckSlot(t *testing.T) {
	p := DefaultParams()
	assert.NoError(t, p.CheckSlot(ClassPseudonym, 20))
	assert.Error(t, p.CheckSlot(ClassPseudonym, 21))
	assert.NoError(t, p.CheckSlot(ClassIdentification, 0))
	assert.Error(t, p.CheckSlot(ClassIdentification, 1))

	p.PseudonymJMax = 40
	assert.NoError(t, p.CheckSlot(ClassPseudonym, 40))
}
