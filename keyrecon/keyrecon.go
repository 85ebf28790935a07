// Package keyrecon reconstructs key pairs for implicit certificates.
//
// An implicit certificate publishes a reconstruction point P_U instead of a
// public key. The holder combines its initial private key k with the private
// reconstruction value r returned by the issuer:
//
//	e     = SHA-256(SHA-256(cert) || issuerHash) mod n
//	priv  = (e·k + r) mod n
//	pub   = priv·G = e·P_U + Q_CA
//
// Butterfly reconstruction first derives k from a caterpillar seed key and
// the (i, j) expansion function of Expand.
//
// Every function here is pure. Scalars are 32-byte big-endian values
// reduced mod n; points are SEC1 encoded.
package keyrecon

import (
	"math/big"

	"xdao.co/v2xsec/model"
)

// KeyPair is a reconstructed key pair. Public is a compressed point.
type KeyPair struct {
	Private []byte
	Public  []byte
}

// SequentialInput holds the material for a one-shot implicit certificate.
//
// Cert is the encoded certificate and ReconPoint the reconstruction point it
// carries. IssuerPub is optional; when present the derived public key is
// checked against e·P_U + Q_CA.
type SequentialInput struct {
	InitPriv   []byte
	PrivRecon  []byte
	Cert       []byte
	ReconPoint []byte
	IssuerHash []byte
	IssuerPub  []byte
}

// ReconstructSequential derives the key pair of a sequential implicit
// certificate.
func ReconstructSequential(in SequentialInput) (KeyPair, error) {
	k, err := scalarFromBytes(in.InitPriv, "initial private key")
	if err != nil {
		return KeyPair{}, err
	}
	return reconstruct(k, in.PrivRecon, in.Cert, in.ReconPoint, in.IssuerHash, in.IssuerPub)
}

func reconstruct(k *big.Int, privRecon, cert, reconPoint, issuerHash, issuerPub []byte) (KeyPair, error) {
	r, err := scalarFromBytes(privRecon, "private reconstruction value")
	if err != nil {
		return KeyPair{}, err
	}
	pu, err := decodePoint(reconPoint)
	if err != nil {
		return KeyPair{}, model.Wrap(model.ErrInvalidCert, "keyrecon: certificate reconstruction point", err)
	}

	e := HashBinding(cert, issuerHash)
	priv := new(big.Int).Mul(e, k)
	priv.Add(priv, r)
	priv.Mod(priv, order)
	if priv.Sign() == 0 {
		return KeyPair{}, model.NewError(model.ErrKeyMismatch, "keyrecon: derived private key is zero")
	}
	pub := curve.NewElement().MulGen(toScalar(priv))

	if issuerPub != nil {
		qca, err := decodePoint(issuerPub)
		if err != nil {
			return KeyPair{}, model.Wrap(model.ErrInvalidArgument, "keyrecon: issuer public key", err)
		}
		expect := curve.NewElement().Mul(pu, toScalar(e))
		expect.Add(expect, qca)
		if !expect.IsEqual(pub) {
			return KeyPair{}, model.NewError(model.ErrInvalidCert, "keyrecon: derived key does not match certificate")
		}
	}

	pubBytes, err := compress(pub)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Private: scalarBytes(priv), Public: pubBytes}, nil
}

// ReconstructPublic computes the public key of an implicit certificate from
// public data only: Q = e·P_U + Q_CA.
func ReconstructPublic(reconPoint, cert, issuerHash, issuerPub []byte) ([]byte, error) {
	pu, err := decodePoint(reconPoint)
	if err != nil {
		return nil, model.Wrap(model.ErrInvalidCert, "keyrecon: certificate reconstruction point", err)
	}
	qca, err := decodePoint(issuerPub)
	if err != nil {
		return nil, model.Wrap(model.ErrInvalidArgument, "keyrecon: issuer public key", err)
	}
	e := HashBinding(cert, issuerHash)
	q := curve.NewElement().Mul(pu, toScalar(e))
	q.Add(q, qca)
	if q.IsIdentity() {
		return nil, model.NewError(model.ErrKeyMismatch, "keyrecon: reconstructed public key is the identity")
	}
	return compress(q)
}
