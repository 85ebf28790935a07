package keys

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"xdao.co/v2xsec/executor"
	"xdao.co/v2xsec/model"
)

const signaturePrefix = "p256sig:"

// Sign hashes message with alg and signs the digest with the key derived
// from seed, using ex so signing can be offloaded like any other.
func Sign(ctx context.Context, ex executor.Executor, seed, message []byte, alg model.HashAlgorithm, mode model.PointMode) (model.Signature, error) {
	priv, err := PrivateFromSeed(seed)
	if err != nil {
		return model.Signature{}, model.Wrap(model.ErrInvalidArgument, "keys: seed", err)
	}
	digest, err := executor.Digest(alg, message)
	if err != nil {
		return model.Signature{}, err
	}
	return ex.Sign(ctx, priv, digest, mode)
}

// Verify checks sig over message against a "p256:" public key.
func Verify(ctx context.Context, ex executor.Executor, pub string, message []byte, alg model.HashAlgorithm, sig model.Signature) error {
	point, err := ParsePublicKey(pub)
	if err != nil {
		return model.Wrap(model.ErrInvalidArgument, "keys: public key", err)
	}
	digest, err := executor.Digest(alg, message)
	if err != nil {
		return err
	}
	return ex.Verify(ctx, point, digest, sig)
}

// FormatSignature renders sig as "p256sig:" + hex(mode || r || s).
func FormatSignature(sig model.Signature) string {
	return signaturePrefix + hex.EncodeToString(sig.Bytes())
}

// ParseSignature is the inverse of FormatSignature.
func ParseSignature(s string) (model.Signature, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), signaturePrefix)
	if !ok {
		return model.Signature{}, fmt.Errorf("signature must start with %q", signaturePrefix)
	}
	b, err := hex.DecodeString(rest)
	if err != nil {
		return model.Signature{}, err
	}
	if len(b) == 0 {
		return model.Signature{}, fmt.Errorf("empty signature")
	}
	sig := model.Signature{Mode: model.PointMode(b[0])}
	rLen := 32
	switch sig.Mode {
	case model.PointXOnly:
	case model.PointCompressed:
		rLen = 33
	default:
		return model.Signature{}, fmt.Errorf("unknown point mode %d", b[0])
	}
	if len(b) != 1+rLen+32 {
		return model.Signature{}, fmt.Errorf("signature is %d bytes, want %d", len(b), 1+rLen+32)
	}
	sig.R = append([]byte(nil), b[1:1+rLen]...)
	copy(sig.S[:], b[1+rLen:])
	return sig, nil
}
