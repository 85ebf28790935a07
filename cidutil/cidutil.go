// Package cidutil derives content identifiers for encoded certificates.
//
// A certificate is named three ways: its SHA-256 content hash (the cache
// key), the HashedID8 suffix of that hash (the on-air signer digest), and a
// CIDv1 raw + sha2-256 identifier (the certificate store key). All three
// are derived from the same digest so they can be converted without the
// original bytes.
package cidutil

import (
	"crypto/sha256"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"xdao.co/v2xsec/model"
)

// Hash is a full SHA-256 content hash.
type Hash [sha256.Size]byte

// Sum returns the SHA-256 content hash of data.
func Sum(data []byte) Hash { return sha256.Sum256(data) }

// HashedID8 returns the low-order eight bytes of h.
func (h Hash) HashedID8() model.HashedID8 {
	var out model.HashedID8
	copy(out[:], h[len(h)-8:])
	return out
}

// HashedID3 returns the low-order three bytes of h.
func (h Hash) HashedID3() model.HashedID3 {
	var out model.HashedID3
	copy(out[:], h[len(h)-3:])
	return out
}

// CID returns the CIDv1 (raw + sha2-256) for the bytes that hashed to h.
func (h Hash) CID() cid.Cid {
	mh, err := multihash.Encode(h[:], multihash.SHA2_256)
	if err != nil {
		// Encode only fails for unknown codes or oversize digests.
		return cid.Undef
	}
	return cid.NewCidV1(cid.Raw, mh)
}

// HashedID8Of is shorthand for Sum(data).HashedID8().
func HashedID8Of(data []byte) model.HashedID8 { return Sum(data).HashedID8() }

// CIDv1RawSHA256 returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash.
func CIDv1RawSHA256(data []byte) string {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return ""
	}
	return cid.NewCidV1(cid.Raw, sum).String()
}

// CIDv1RawSHA256CID returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// HashFromCID recovers the content hash from a raw + sha2-256 CID.
func HashFromCID(id cid.Cid) (Hash, error) {
	var h Hash
	dec, err := multihash.Decode(id.Hash())
	if err != nil {
		return h, err
	}
	if dec.Code != multihash.SHA2_256 || len(dec.Digest) != len(h) {
		return h, fmt.Errorf("cidutil: cid %s is not sha2-256", id)
	}
	copy(h[:], dec.Digest)
	return h, nil
}
