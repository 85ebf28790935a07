package keyrecon

import (
	"crypto/rand"
	"io"
	"math/big"

	"xdao.co/v2xsec/model"
)

// Issuance is the issuer-side result of certifying a request key.
type Issuance struct {
	Cert       []byte
	ReconPoint []byte
	PrivRecon  []byte
}

// Issue performs the issuer side of implicit certification: pick c, publish
// P_U = R_U + c·G inside the certificate produced by encode, and return
// r = (e·c + d_CA) mod n. It is used by provisioning tools and test fixtures.
func Issue(rnd io.Reader, caPriv, requestPub, issuerHash []byte, encode func(reconPoint []byte) ([]byte, error)) (Issuance, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	dca, err := scalarFromBytes(caPriv, "issuer private key")
	if err != nil {
		return Issuance{}, err
	}
	ru, err := decodePoint(requestPub)
	if err != nil {
		return Issuance{}, model.Wrap(model.ErrInvalidArgument, "keyrecon: request public key", err)
	}
	c, err := RandomScalar(rnd)
	if err != nil {
		return Issuance{}, err
	}
	cs := new(big.Int).SetBytes(c)

	pu := curve.NewElement().MulGen(toScalar(cs))
	pu.Add(pu, ru)
	if pu.IsIdentity() {
		return Issuance{}, model.NewError(model.ErrInternal, "keyrecon: degenerate reconstruction point")
	}
	puBytes, err := compress(pu)
	if err != nil {
		return Issuance{}, err
	}
	cert, err := encode(puBytes)
	if err != nil {
		return Issuance{}, err
	}
	e := HashBinding(cert, issuerHash)
	r := new(big.Int).Mul(e, cs)
	r.Add(r, dca)
	r.Mod(r, order)
	return Issuance{Cert: cert, ReconPoint: puBytes, PrivRecon: scalarBytes(r)}, nil
}

// RandomScalar returns a uniformly random non-zero scalar.
func RandomScalar(rnd io.Reader) ([]byte, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	max := new(big.Int).Sub(order, big.NewInt(1))
	k, err := rand.Int(rnd, max)
	if err != nil {
		return nil, model.Wrap(model.ErrInternal, "keyrecon: random scalar", err)
	}
	return scalarBytes(k.Add(k, big.NewInt(1))), nil
}
