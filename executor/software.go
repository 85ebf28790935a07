package executor

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"io"
	"math/big"

	"github.com/cloudflare/circl/group"

	"xdao.co/v2xsec/model"
)

var order = elliptic.P256().Params().N

// Software is the in-process backend. Signing is done on the circl P-256
// group so the nonce point R is available for compressed signatures;
// verification uses crypto/ecdsa.
type Software struct {
	rand io.Reader
}

var _ Executor = (*Software)(nil)

// NewSoftware returns a software executor. A nil rnd uses crypto/rand.
func NewSoftware(rnd io.Reader) *Software {
	if rnd == nil {
		rnd = rand.Reader
	}
	return &Software{rand: rnd}
}

// hashToInt truncates digest to the bit length of n (SEC1 4.1.3 step 5).
func hashToInt(digest []byte) *big.Int {
	if len(digest) > 32 {
		digest = digest[:32]
	}
	return new(big.Int).SetBytes(digest)
}

func (s *Software) Sign(ctx context.Context, priv, digest []byte, mode model.PointMode) (model.Signature, error) {
	if err := ctx.Err(); err != nil {
		return model.Signature{}, model.Wrap(model.ErrPending, "executor: sign", err)
	}
	if err := checkDigest(digest); err != nil {
		return model.Signature{}, err
	}
	if !mode.Valid() {
		return model.Signature{}, model.Errorf(model.ErrInvalidArgument, "executor: point mode %d", mode)
	}
	d := new(big.Int).SetBytes(priv)
	if len(priv) != 32 || d.Sign() == 0 || d.Cmp(order) >= 0 {
		return model.Signature{}, model.NewError(model.ErrInvalidArgument, "executor: invalid private key")
	}
	e := hashToInt(digest)
	max := new(big.Int).Sub(order, big.NewInt(1))

	for {
		k, err := rand.Int(s.rand, max)
		if err != nil {
			return model.Signature{}, model.Wrap(model.ErrInternal, "executor: nonce", err)
		}
		k.Add(k, big.NewInt(1))

		nonce := group.P256.NewElement().MulGen(group.P256.NewScalar().SetBigInt(k))
		raw, err := nonce.MarshalBinary()
		if err != nil || len(raw) != 65 {
			return model.Signature{}, model.Wrap(model.ErrInternal, "executor: nonce point", err)
		}
		x := raw[1:33]
		r := new(big.Int).SetBytes(x)
		r.Mod(r, order)
		if r.Sign() == 0 {
			continue
		}
		sv := new(big.Int).Mul(r, d)
		sv.Add(sv, e)
		sv.Mul(sv, new(big.Int).ModInverse(k, order))
		sv.Mod(sv, order)
		if sv.Sign() == 0 {
			continue
		}

		sig := model.Signature{Mode: mode}
		sv.FillBytes(sig.S[:])
		switch mode {
		case model.PointXOnly:
			sig.R = append([]byte(nil), x...)
		case model.PointCompressed:
			sig.R, err = nonce.MarshalBinaryCompress()
			if err != nil {
				return model.Signature{}, model.Wrap(model.ErrInternal, "executor: compress nonce point", err)
			}
		}
		return sig, nil
	}
}

func (s *Software) Verify(ctx context.Context, pub, digest []byte, sig model.Signature) error {
	if err := ctx.Err(); err != nil {
		return model.Wrap(model.ErrPending, "executor: verify", err)
	}
	if err := checkDigest(digest); err != nil {
		return err
	}
	pk, err := ParsePublicKey(pub)
	if err != nil {
		return err
	}
	var x []byte
	switch sig.Mode {
	case model.PointXOnly:
		if len(sig.R) != 32 {
			return errBadSignature("x-only r of %d bytes", len(sig.R))
		}
		x = sig.R
	case model.PointCompressed:
		if len(sig.R) != model.CompressedPointSize {
			return errBadSignature("compressed r of %d bytes", len(sig.R))
		}
		if _, err := decodePoint(sig.R); err != nil {
			return errBadSignature("r is not a curve point")
		}
		x = sig.R[1:]
	default:
		return errBadSignature("unknown point mode %d", sig.Mode)
	}
	r := new(big.Int).SetBytes(x)
	r.Mod(r, order)
	sv := new(big.Int).SetBytes(sig.S[:])
	if r.Sign() == 0 || sv.Sign() == 0 || sv.Cmp(order) >= 0 {
		return errBadSignature("signature component out of range")
	}
	if !ecdsa.Verify(pk, digest, r, sv) {
		return errBadSignature("signature does not verify")
	}
	return nil
}

func decodePoint(b []byte) (group.Element, error) {
	p := group.P256.NewElement()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, model.Wrap(model.ErrInvalidPoint, "executor: public key not on curve", err)
	}
	if p.IsIdentity() {
		return nil, model.NewError(model.ErrInvalidPoint, "executor: identity public key")
	}
	return p, nil
}

// ParsePublicKey decodes a SEC1 P-256 point.
func ParsePublicKey(pub []byte) (*ecdsa.PublicKey, error) {
	p, err := decodePoint(pub)
	if err != nil {
		return nil, err
	}
	raw, err := p.MarshalBinary()
	if err != nil || len(raw) != 65 {
		return nil, model.Wrap(model.ErrInvalidPoint, "executor: public key encoding", err)
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(raw[1:33]),
		Y:     new(big.Int).SetBytes(raw[33:]),
	}, nil
}
