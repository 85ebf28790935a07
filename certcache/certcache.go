// Package certcache holds parsed certificates seen by the security layer,
// keyed by content hash.
//
// Issuer links are stored as hash keys, never as pointers, so evicting an
// issuer cannot leave a dangling chain: a child whose issuer disappears goes
// back to pending and is relinked when the issuer is seen again.
//
// Cache is not internally locked. Callers serialize access (spdu.SecurityContext
// holds the lock for every call, including lookups, because they extend expiry).
package certcache

import (
	"github.com/sirupsen/logrus"

	"xdao.co/v2xsec/cidutil"
	"xdao.co/v2xsec/model"
)

// Key is a usable key for an entry: the explicit verification key, or the
// result of implicit reconstruction against the issuer.
type Key struct {
	Public  []byte
	Private []byte
	Expiry  model.Time64
}

// Valid reports whether the key may still be used at now.
func (k *Key) Valid(now model.Time64) bool { return k != nil && now < k.Expiry }

// LinkState describes how far issuer resolution has progressed for an entry.
type LinkState uint8

const (
	LinkNone LinkState = iota
	LinkSelf
	LinkPending
	LinkResolved
)

// Entry is the single authoritative record for one certificate.
type Entry struct {
	Contents model.CertificateContents
	Hash     cidutil.Hash
	ID8      model.HashedID8
	// Raw is shared with every reader and must not be modified.
	Raw []byte

	// Issuer is the hash of the issuing entry when Link is LinkResolved.
	Issuer cidutil.Hash
	Link   LinkState

	Key     *Key
	Revoked bool
	// Pinned entries (trust anchors) are never evicted.
	Pinned bool
	// Trusted is set on an explicit certificate once its issuer signature
	// has been verified against a trusted issuer.
	Trusted bool
	Expiry  model.Time64
}

type crlKey struct {
	craca  model.HashedID3
	series uint16
}

// Options configures a Cache.
type Options struct {
	// TTL is how long an entry lives after its last lookup.
	TTL model.Time64
	// Capacity bounds the number of entries; zero means unbounded.
	Capacity int
	Log      *logrus.Logger
}

// DefaultTTL is used when Options.TTL is zero.
const DefaultTTL = 10 * model.Minute

// Cache is the certificate cache.
type Cache struct {
	opts     Options
	log      *logrus.Logger
	entries  map[cidutil.Hash]*Entry
	byDigest map[model.HashedID8][]cidutil.Hash
	// pending maps an issuer digest to the children waiting for it.
	pending map[model.HashedID8][]cidutil.Hash
	revoked map[cidutil.Hash]struct{}
	crls    map[crlKey]model.Time64
}

// New returns an empty cache.
func New(opts Options) *Cache {
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{
		opts:     opts,
		log:      log,
		entries:  map[cidutil.Hash]*Entry{},
		byDigest: map[model.HashedID8][]cidutil.Hash{},
		pending:  map[model.HashedID8][]cidutil.Hash{},
		revoked:  map[cidutil.Hash]struct{}{},
		crls:     map[crlKey]model.Time64{},
	}
}

// Len returns the number of entries.
func (c *Cache) Len() int { return len(c.entries) }

func (c *Cache) touch(e *Entry, now model.Time64) {
	if exp := now + c.opts.TTL; exp > e.Expiry {
		e.Expiry = exp
	}
}

func (c *Cache) live(e *Entry, now model.Time64) bool {
	return e.Pinned || now < e.Expiry
}

// FindOrInsert returns the entry for hash, creating it from raw and contents
// if absent. The boolean reports whether the entry was created. Either way
// the entry's expiry is extended.
func (c *Cache) FindOrInsert(hash cidutil.Hash, raw []byte, contents *model.CertificateContents, now model.Time64) (*Entry, bool) {
	if e, ok := c.entries[hash]; ok && c.live(e, now) {
		c.touch(e, now)
		return e, false
	} else if ok {
		c.remove(e)
	}
	if c.opts.Capacity > 0 && len(c.entries) >= c.opts.Capacity {
		c.Evict(now)
		if len(c.entries) >= c.opts.Capacity {
			c.evictOldest()
		}
	}

	e := &Entry{
		Contents: *contents,
		Hash:     hash,
		ID8:      hash.HashedID8(),
		Raw:      raw,
	}
	if _, ok := c.revoked[hash]; ok {
		e.Revoked = true
	}
	if contents.Kind == model.CertExplicit {
		e.Key = &Key{Public: contents.VerifyKey.Point, Expiry: contents.Validity.End}
	}
	c.touch(e, now)
	c.entries[hash] = e
	c.byDigest[e.ID8] = append(c.byDigest[e.ID8], hash)

	// Children that named this certificate as issuer before it was seen.
	if kids, ok := c.pending[e.ID8]; ok {
		delete(c.pending, e.ID8)
		for _, k := range kids {
			if child, ok := c.entries[k]; ok && child.Link == LinkPending {
				child.Issuer = hash
				child.Link = LinkResolved
			}
		}
	}
	c.log.WithFields(logrus.Fields{"h8": e.ID8.String(), "kind": contents.Kind}).Debug("certcache: inserted")
	return e, true
}

// Lookup returns the live entry for hash and extends its expiry.
func (c *Cache) Lookup(hash cidutil.Hash, now model.Time64) (*Entry, bool) {
	e, ok := c.entries[hash]
	if !ok || !c.live(e, now) {
		return nil, false
	}
	c.touch(e, now)
	return e, true
}

// LookupDigest returns the live entry whose HashedID8 is h8 and extends its
// expiry. When several certificates share a digest the most recently
// inserted one wins.
func (c *Cache) LookupDigest(h8 model.HashedID8, now model.Time64) (*Entry, bool) {
	hs := c.byDigest[h8]
	for i := len(hs) - 1; i >= 0; i-- {
		if e, ok := c.entries[hs[i]]; ok && c.live(e, now) {
			c.touch(e, now)
			return e, true
		}
	}
	return nil, false
}

// LinkIssuer resolves e's issuer identifier against the cache. It returns the
// issuer entry when one is linked. An unknown issuer digest leaves e pending;
// the link completes when the issuer is inserted.
func (c *Cache) LinkIssuer(e *Entry) (*Entry, bool) {
	switch e.Contents.Issuer.Kind {
	case model.IssuerSelf:
		e.Link = LinkSelf
		return nil, false
	case model.IssuerDigest:
	default:
		e.Link = LinkNone
		return nil, false
	}
	if e.Link == LinkResolved {
		if is, ok := c.entries[e.Issuer]; ok {
			return is, true
		}
	}
	d := e.Contents.Issuer.Digest
	hs := c.byDigest[d]
	if len(hs) > 0 {
		h := hs[len(hs)-1]
		if is, ok := c.entries[h]; ok {
			e.Issuer = h
			e.Link = LinkResolved
			return is, true
		}
	}
	if e.Link != LinkPending {
		e.Link = LinkPending
		c.pending[d] = append(c.pending[d], e.Hash)
	}
	return nil, false
}

// Issuer returns the linked issuer entry of e, if it is still cached.
func (c *Cache) Issuer(e *Entry) (*Entry, bool) {
	if e.Link != LinkResolved {
		return nil, false
	}
	is, ok := c.entries[e.Issuer]
	return is, ok
}

// SetKey stores a reconstructed key on e. The key never outlives the
// certificate's validity.
func (c *Cache) SetKey(e *Entry, pub, priv []byte, expiry model.Time64) {
	if end := e.Contents.Validity.End; expiry > end {
		expiry = end
	}
	e.Key = &Key{Public: pub, Private: priv, Expiry: expiry}
}

// Pin marks the entry for hash as a trust anchor.
func (c *Cache) Pin(hash cidutil.Hash) bool {
	e, ok := c.entries[hash]
	if ok {
		e.Pinned = true
	}
	return ok
}

// MarkTrusted records that the issuer signature of the entry for hash was
// verified. It is lost when the entry leaves the cache.
func (c *Cache) MarkTrusted(hash cidutil.Hash) bool {
	e, ok := c.entries[hash]
	if ok {
		e.Trusted = true
	}
	return ok
}

// MarkRevoked revokes hash. Revocation is remembered even if the certificate
// has not been seen yet.
func (c *Cache) MarkRevoked(hash cidutil.Hash) {
	c.revoked[hash] = struct{}{}
	if e, ok := c.entries[hash]; ok {
		e.Revoked = true
		c.log.WithField("h8", e.ID8.String()).Info("certcache: revoked")
	}
}

// IsRevoked reports whether hash has been revoked.
func (c *Cache) IsRevoked(hash cidutil.Hash) bool {
	_, ok := c.revoked[hash]
	return ok
}

// RecordCRL notes the next expected update of the CRL identified by craca
// and series.
func (c *Cache) RecordCRL(craca model.HashedID3, series uint16, nextUpdate model.Time64) {
	c.crls[crlKey{craca, series}] = nextUpdate
}

// CRLNextUpdate returns the recorded next update time of a CRL.
func (c *Cache) CRLNextUpdate(craca model.HashedID3, series uint16) (model.Time64, bool) {
	t, ok := c.crls[crlKey{craca, series}]
	return t, ok
}

// Evict removes every expired, unpinned entry and returns how many were
// removed.
func (c *Cache) Evict(now model.Time64) int {
	n := 0
	for _, e := range c.entries {
		if !c.live(e, now) {
			c.remove(e)
			n++
		}
	}
	if n > 0 {
		c.log.WithFields(logrus.Fields{"evicted": n, "remaining": len(c.entries)}).Debug("certcache: evicted")
	}
	return n
}

func (c *Cache) evictOldest() {
	var oldest *Entry
	for _, e := range c.entries {
		if e.Pinned {
			continue
		}
		if oldest == nil || e.Expiry < oldest.Expiry {
			oldest = e
		}
	}
	if oldest != nil {
		c.remove(oldest)
	}
}

func (c *Cache) remove(e *Entry) {
	delete(c.entries, e.Hash)
	hs := c.byDigest[e.ID8]
	for i, h := range hs {
		if h == e.Hash {
			hs = append(hs[:i], hs[i+1:]...)
			break
		}
	}
	if len(hs) == 0 {
		delete(c.byDigest, e.ID8)
	} else {
		c.byDigest[e.ID8] = hs
	}
	// Children of e go back to waiting for it.
	for _, child := range c.entries {
		if child.Link == LinkResolved && child.Issuer == e.Hash {
			child.Link = LinkPending
			child.Issuer = cidutil.Hash{}
			d := child.Contents.Issuer.Digest
			c.pending[d] = append(c.pending[d], child.Hash)
		}
	}
}
