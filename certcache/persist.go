package certcache

import (
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/v2xsec/cidutil"
	"xdao.co/v2xsec/model"
	"xdao.co/v2xsec/storage"
	"xdao.co/v2xsec/wire"
)

// Persist writes the raw certificate of e to cas and checks that the
// returned CID addresses the same hash.
func Persist(cas storage.CAS, e *Entry) (cid.Cid, error) {
	id, err := cas.Put(e.Raw)
	if err != nil {
		return cid.Undef, err
	}
	h, err := cidutil.HashFromCID(id)
	if err != nil {
		return cid.Undef, err
	}
	if h != e.Hash {
		return cid.Undef, fmt.Errorf("%w: %s", storage.ErrCIDMismatch, id)
	}
	return id, nil
}

// Warm loads the certificates ids from cas into the cache and links their
// issuers. Certificates are linked in the given order, so callers list
// issuers first when they can; later inserts still resolve pending links.
func (c *Cache) Warm(cas storage.CAS, codec wire.Codec, ids []cid.Cid, now model.Time64) (int, error) {
	n := 0
	for _, id := range ids {
		h, err := cidutil.HashFromCID(id)
		if err != nil {
			return n, err
		}
		raw, err := cas.Get(id)
		if err != nil {
			return n, fmt.Errorf("certcache: warm %s: %w", id, err)
		}
		if cidutil.Sum(raw) != h {
			return n, fmt.Errorf("%w: %s", storage.ErrCIDMismatch, id)
		}
		cert, err := codec.DecodeCertificate(raw)
		if err != nil {
			return n, err
		}
		e, created := c.FindOrInsert(h, raw, &cert.Contents, now)
		c.LinkIssuer(e)
		if created {
			n++
		}
	}
	return n, nil
}
