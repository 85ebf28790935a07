package executor

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"xdao.co/v2xsec/model"
)

func newHash(alg model.HashAlgorithm) (func() hash.Hash, error) {
	switch alg {
	case model.SHA256:
		return sha256.New, nil
	case model.SHA384:
		return sha512.New384, nil
	default:
		return nil, model.Errorf(model.ErrUnsupported, "executor: hash algorithm %d", alg)
	}
}

// Digest hashes data with alg.
func Digest(alg model.HashAlgorithm, data []byte) ([]byte, error) {
	nh, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	h := nh()
	h.Write(data)
	return h.Sum(nil), nil
}

// SignerDigest is the digest an SPDU signature covers: H(H(tbs) || H(signer)),
// where signer is the encoded signing certificate.
func SignerDigest(alg model.HashAlgorithm, tbs, signer []byte) ([]byte, error) {
	nh, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	a := nh()
	a.Write(tbs)
	b := nh()
	b.Write(signer)
	h := nh()
	h.Write(a.Sum(nil))
	h.Write(b.Sum(nil))
	return h.Sum(nil), nil
}
