package certcache

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/v2xsec/cidutil"
	"xdao.co/v2xsec/internal/pki"
	"xdao.co/v2xsec/model"
	"xdao.co/v2xsec/storage/localfs"
	"xdao.co/v2xsec/wire"
)

const ttl = 10 * model.Second

func cert(name string, issuer *cidutil.Hash) (cidutil.Hash, []byte, *model.CertificateContents) {
	raw := []byte("cert:" + name)
	c := &model.CertificateContents{
		Kind:     model.CertImplicit,
		Issuer:   model.IssuerID{Kind: model.IssuerSelf, HashAlg: model.SHA256},
		Subject:  model.SubjectID{Kind: model.SubjectHostName, HostName: name},
		Validity: model.ValidityPeriod{Start: 0, End: 1000 * model.Second},
	}
	if issuer != nil {
		c.Issuer = model.IssuerID{Kind: model.IssuerDigest, HashAlg: model.SHA256, Digest: issuer.HashedID8()}
	}
	return cidutil.Sum(raw), raw, c
}

func TestFindOrInsertAndExpiry(t *testing.T) {
	c := New(Options{TTL: ttl})
	h, raw, contents := cert("a", nil)

	e, created := c.FindOrInsert(h, raw, contents, 0)
	require.True(t, created)
	assert.Equal(t, h.HashedID8(), e.ID8)
	assert.Equal(t, ttl, e.Expiry)

	again, created := c.FindOrInsert(h, raw, contents, 5*model.Second)
	assert.False(t, created)
	assert.Same(t, e, again)
	assert.Equal(t, 5*model.Second+ttl, e.Expiry)

	got, ok := c.LookupDigest(h.HashedID8(), 14*model.Second)
	require.True(t, ok)
	assert.Same(t, e, got)

	_, ok = c.Lookup(h, 14*model.Second+ttl)
	assert.False(t, ok, "entry not refreshed for a full ttl")
	assert.Equal(t, 1, c.Evict(14*model.Second+ttl))
	assert.Equal(t, 0, c.Len())
}

func TestExplicitEntryCarriesKey(t *testing.T) {
	c := New(Options{})
	h, raw, contents := cert("root", nil)
	contents.Kind = model.CertExplicit
	contents.VerifyKey = model.VerificationKeyIndicator{Kind: model.VerificationKey, Point: make([]byte, model.CompressedPointSize)}
	e, _ := c.FindOrInsert(h, raw, contents, 0)
	require.NotNil(t, e.Key)
	assert.True(t, e.Key.Valid(0))
	assert.False(t, e.Key.Valid(contents.Validity.End))
}

func TestIssuerLinkPendingThenResolved(t *testing.T) {
	c := New(Options{TTL: ttl})
	ih, iraw, icontents := cert("issuer", nil)
	ch, craw, ccontents := cert("child", &ih)

	child, _ := c.FindOrInsert(ch, craw, ccontents, 0)
	_, ok := c.LinkIssuer(child)
	assert.False(t, ok)
	assert.Equal(t, LinkPending, child.Link)

	issuer, _ := c.FindOrInsert(ih, iraw, icontents, 0)
	assert.Equal(t, LinkResolved, child.Link)
	got, ok := c.Issuer(child)
	require.True(t, ok)
	assert.Same(t, issuer, got)

	c.LinkIssuer(issuer)
	assert.Equal(t, LinkSelf, issuer.Link)
}

func TestEvictedIssuerDoesNotDangle(t *testing.T) {
	c := New(Options{TTL: ttl})
	ih, iraw, icontents := cert("issuer", nil)
	ch, craw, ccontents := cert("child", &ih)

	c.FindOrInsert(ih, iraw, icontents, 0)
	child, _ := c.FindOrInsert(ch, craw, ccontents, 5*model.Second)
	_, ok := c.LinkIssuer(child)
	require.True(t, ok)

	// Only the issuer has expired.
	assert.Equal(t, 1, c.Evict(ttl))
	_, ok = c.Issuer(child)
	assert.False(t, ok)
	assert.Equal(t, LinkPending, child.Link)

	issuer, _ := c.FindOrInsert(ih, iraw, icontents, ttl)
	got, ok := c.Issuer(child)
	require.True(t, ok)
	assert.Same(t, issuer, got)
}

func TestRevocation(t *testing.T) {
	c := New(Options{})
	h, raw, contents := cert("a", nil)
	h2, raw2, contents2 := cert("b", nil)

	e, _ := c.FindOrInsert(h, raw, contents, 0)
	assert.False(t, e.Revoked)
	c.MarkRevoked(h)
	assert.True(t, e.Revoked)
	assert.True(t, c.IsRevoked(h))

	c.MarkRevoked(h2)
	e2, _ := c.FindOrInsert(h2, raw2, contents2, 0)
	assert.True(t, e2.Revoked, "revocation seen before the certificate")
}

func TestCapacityEvictsOldestUnpinned(t *testing.T) {
	c := New(Options{TTL: ttl, Capacity: 2})
	ha, rawa, ca := cert("a", nil)
	hb, rawb, cb := cert("b", nil)
	hc, rawc, cc := cert("c", nil)

	c.FindOrInsert(ha, rawa, ca, 0)
	require.True(t, c.Pin(ha))
	c.FindOrInsert(hb, rawb, cb, model.Second)
	c.FindOrInsert(hc, rawc, cc, 2*model.Second)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Lookup(ha, 100*model.Second)
	assert.True(t, ok, "pinned entries survive capacity pressure and expiry")
	_, ok = c.Lookup(hb, 2*model.Second)
	assert.False(t, ok)
	_, ok = c.Lookup(hc, 2*model.Second)
	assert.True(t, ok)
}

func TestTrustIsLostWithTheEntry(t *testing.T) {
	c := New(Options{TTL: ttl})
	h, raw, contents := cert("a", nil)
	assert.False(t, c.MarkTrusted(h), "unknown hash")

	e, _ := c.FindOrInsert(h, raw, contents, 0)
	assert.False(t, e.Trusted)
	require.True(t, c.MarkTrusted(h))
	assert.True(t, e.Trusted)

	e, created := c.FindOrInsert(h, raw, contents, 2*ttl)
	require.True(t, created, "expired entry is replaced")
	assert.False(t, e.Trusted)
}

func TestSetKeyClampsToValidity(t *testing.T) {
	c := New(Options{})
	h, raw, contents := cert("a", nil)
	e, _ := c.FindOrInsert(h, raw, contents, 0)
	c.SetKey(e, []byte{2}, nil, 5000*model.Second)
	assert.Equal(t, contents.Validity.End, e.Key.Expiry)
}

func TestCRLNextUpdate(t *testing.T) {
	c := New(Options{})
	_, ok := c.CRLNextUpdate(model.HashedID3{1, 2, 3}, 4)
	assert.False(t, ok)
	c.RecordCRL(model.HashedID3{1, 2, 3}, 4, 77)
	next, ok := c.CRLNextUpdate(model.HashedID3{1, 2, 3}, 4)
	require.True(t, ok)
	assert.Equal(t, model.Time64(77), next)
}

func TestPersistAndWarm(t *testing.T) {
	cas, err := localfs.New(t.TempDir())
	require.NoError(t, err)

	root, err := pki.NewRoot(model.ValidityPeriod{Start: 0, End: 3600 * model.Second}, 32)
	require.NoError(t, err)
	ee, err := root.IssueImplicit(model.CertificateContents{})
	require.NoError(t, err)

	src := New(Options{})
	var ids []cid.Cid
	// Child first: its issuer link completes when the root is warmed.
	for _, raw := range [][]byte{ee.Cert, root.Cert} {
		cert, err := wire.Compact{}.DecodeCertificate(raw)
		require.NoError(t, err)
		e, _ := src.FindOrInsert(cidutil.Sum(raw), raw, &cert.Contents, 0)
		id, err := Persist(cas, e)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	dst := New(Options{})
	n, err := dst.Warm(cas, wire.Compact{}, ids, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	child, ok := dst.Lookup(ee.Hash, 0)
	require.True(t, ok)
	issuer, ok := dst.Issuer(child)
	require.True(t, ok)
	assert.Equal(t, root.Hash, issuer.Hash)
}
