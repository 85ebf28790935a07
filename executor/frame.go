package executor

import (
	"golang.org/x/crypto/cryptobyte"

	"xdao.co/v2xsec/model"
)

// Offload request frames:
//
//	sign:   mode:u8 | priv<u8> | digest<u8>
//	verify: pub<u8> | digest<u8> | mode:u8 | r<u8> | s[32]
//
// A signature reply is mode:u8 | r<u8> | s[32].

func frameErr(what string) error {
	return model.Errorf(model.ErrMalformed, "executor: bad %s frame", what)
}

func addSig(b *cryptobyte.Builder, sig model.Signature) {
	b.AddUint8(uint8(sig.Mode))
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(sig.R) })
	b.AddBytes(sig.S[:])
}

func readSig(s *cryptobyte.String) (model.Signature, bool) {
	var sig model.Signature
	var mode uint8
	var r cryptobyte.String
	if !s.ReadUint8(&mode) || !s.ReadUint8LengthPrefixed(&r) || !s.CopyBytes(sig.S[:]) {
		return sig, false
	}
	sig.Mode = model.PointMode(mode)
	sig.R = append([]byte(nil), r...)
	return sig, true
}

func encodeSignRequest(priv, digest []byte, mode model.PointMode) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(uint8(mode))
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(priv) })
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(digest) })
	out, err := b.Bytes()
	if err != nil {
		return nil, model.Wrap(model.ErrInvalidArgument, "executor: sign frame", err)
	}
	return out, nil
}

func decodeSignRequest(in []byte) (priv, digest []byte, mode model.PointMode, err error) {
	s := cryptobyte.String(in)
	var m uint8
	var p, d cryptobyte.String
	if !s.ReadUint8(&m) || !s.ReadUint8LengthPrefixed(&p) || !s.ReadUint8LengthPrefixed(&d) || !s.Empty() {
		return nil, nil, 0, frameErr("sign request")
	}
	return []byte(p), []byte(d), model.PointMode(m), nil
}

func encodeSignature(sig model.Signature) ([]byte, error) {
	var b cryptobyte.Builder
	addSig(&b, sig)
	out, err := b.Bytes()
	if err != nil {
		return nil, model.Wrap(model.ErrInternal, "executor: signature frame", err)
	}
	return out, nil
}

func decodeSignature(in []byte) (model.Signature, error) {
	s := cryptobyte.String(in)
	sig, ok := readSig(&s)
	if !ok || !s.Empty() {
		return model.Signature{}, frameErr("signature")
	}
	return sig, nil
}

func encodeVerifyRequest(pub, digest []byte, sig model.Signature) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(pub) })
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(digest) })
	addSig(&b, sig)
	out, err := b.Bytes()
	if err != nil {
		return nil, model.Wrap(model.ErrInvalidArgument, "executor: verify frame", err)
	}
	return out, nil
}

func decodeVerifyRequest(in []byte) (pub, digest []byte, sig model.Signature, err error) {
	s := cryptobyte.String(in)
	var p, d cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&p) || !s.ReadUint8LengthPrefixed(&d) {
		return nil, nil, sig, frameErr("verify request")
	}
	sig, ok := readSig(&s)
	if !ok || !s.Empty() {
		return nil, nil, sig, frameErr("verify request")
	}
	return []byte(p), []byte(d), sig, nil
}
