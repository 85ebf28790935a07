// Package storage is the content-addressed blob store behind the
// certificate cache. Certificates are stored as their exact encoded bytes and
// addressed by a CIDv1 (raw codec, sha2-256 multihash), so the address of a
// certificate carries the same SHA-256 the security layer hashes it with.
package storage

import "github.com/ipfs/go-cid"

// CAS is a minimal content-addressable store.
//
// Contract:
//   - Put is idempotent and returns the CID of the bytes written.
//   - Stored objects are immutable.
//   - Get returns ErrNotFound when the CID is absent and ErrCIDMismatch when
//     the stored bytes no longer hash to it.
type CAS interface {
	Put(bytes []byte) (cid.Cid, error)
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}

// Lister is implemented by stores that can enumerate their contents, used
// to warm the certificate cache at start-up.
type Lister interface {
	List() ([]cid.Cid, error)
}

// List enumerates cas when it supports listing.
func List(cas CAS) ([]cid.Cid, error) {
	l, ok := cas.(Lister)
	if !ok {
		return nil, ErrNotListable
	}
	return l.List()
}
