package keyrecon

import (
	"crypto/elliptic"
	"crypto/sha256"
	"math/big"

	"github.com/cloudflare/circl/group"

	"xdao.co/v2xsec/model"
)

var (
	curve = group.P256
	order = elliptic.P256().Params().N
)

// ScalarSize is the byte length of a P-256 scalar.
const ScalarSize = 32

func scalarFromBytes(b []byte, what string) (*big.Int, error) {
	if len(b) != ScalarSize {
		return nil, model.Errorf(model.ErrInvalidArgument, "keyrecon: %s must be %d bytes", what, ScalarSize)
	}
	k := new(big.Int).SetBytes(b)
	if k.Cmp(order) >= 0 {
		return nil, model.Errorf(model.ErrInvalidArgument, "keyrecon: %s is not reduced mod n", what)
	}
	return k, nil
}

func scalarBytes(k *big.Int) []byte {
	out := make([]byte, ScalarSize)
	return k.FillBytes(out)
}

func toScalar(k *big.Int) group.Scalar { return curve.NewScalar().SetBigInt(k) }

// decodePoint parses a compressed or uncompressed P-256 point and rejects the
// identity and anything not on the curve.
func decodePoint(b []byte) (group.Element, error) {
	p := curve.NewElement()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, model.Wrap(model.ErrInvalidPoint, "keyrecon: point not on curve", err)
	}
	if p.IsIdentity() {
		return nil, model.NewError(model.ErrInvalidPoint, "keyrecon: identity point")
	}
	return p, nil
}

func compress(p group.Element) ([]byte, error) {
	b, err := p.MarshalBinaryCompress()
	if err != nil {
		return nil, model.Wrap(model.ErrInternal, "keyrecon: compress point", err)
	}
	return b, nil
}

// PublicFromPrivate returns priv·G as a compressed point.
func PublicFromPrivate(priv []byte) ([]byte, error) {
	k, err := scalarFromBytes(priv, "private key")
	if err != nil {
		return nil, err
	}
	if k.Sign() == 0 {
		return nil, model.NewError(model.ErrInvalidArgument, "keyrecon: zero private key")
	}
	return compress(curve.NewElement().MulGen(toScalar(k)))
}

// ValidatePoint reports whether b is a valid non-identity P-256 point.
func ValidatePoint(b []byte) error {
	_, err := decodePoint(b)
	return err
}

// HashBinding computes e = SHA-256(SHA-256(cert) || issuerHash) mod n, the
// scalar that binds a reconstruction value to its certificate and issuer.
func HashBinding(cert, issuerHash []byte) *big.Int {
	inner := sha256.Sum256(cert)
	h := sha256.New()
	h.Write(inner[:])
	h.Write(issuerHash)
	e := new(big.Int).SetBytes(h.Sum(nil))
	return e.Mod(e, order)
}
