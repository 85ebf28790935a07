// Package testkit holds the behaviour every certificate store must share.
package testkit

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/v2xsec/cidutil"
	"xdao.co/v2xsec/storage"
)

// NewCAS constructs a fresh, empty store for a test. The returned store must
// be isolated from other tests.
type NewCAS func(t *testing.T) storage.CAS

// RunCASConformance checks the storage.CAS contract. Stores that implement
// storage.Lister also have their listing checked.
func RunCASConformance(t *testing.T, newCAS NewCAS) {
	t.Helper()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		cas := newCAS(t)
		want := []byte("explicit certificate bytes")

		id, err := cas.Put(want)
		require.NoError(t, err)
		assert.Equal(t, cidutil.Sum(want).CID(), id)

		got, err := cas.Get(id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("same bytes")
		id1, err := cas.Put(b)
		require.NoError(t, err)
		id2, err := cas.Put(b)
		require.NoError(t, err)
		assert.Equal(t, id1, id2)
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("missing")
		id := cidutil.Sum(b).CID()

		assert.False(t, cas.Has(id))
		_, err := cas.Get(id)
		assert.True(t, storage.IsNotFound(err), "got %v", err)

		_, err = cas.Put(b)
		require.NoError(t, err)
		assert.True(t, cas.Has(id))
	})

	t.Run("RejectUndefCID", func(t *testing.T) {
		cas := newCAS(t)
		var undef cid.Cid
		assert.False(t, cas.Has(undef))
		_, err := cas.Get(undef)
		assert.Error(t, err)
	})

	t.Run("List", func(t *testing.T) {
		cas := newCAS(t)
		if _, ok := cas.(storage.Lister); !ok {
			t.Skip("store does not list")
		}
		ids, err := storage.List(cas)
		require.NoError(t, err)
		assert.Empty(t, ids)

		want := map[string]bool{}
		for _, b := range []string{"one", "two", "three"} {
			id, err := cas.Put([]byte(b))
			require.NoError(t, err)
			want[id.String()] = true
		}
		ids, err = storage.List(cas)
		require.NoError(t, err)
		got := map[string]bool{}
		for _, id := range ids {
			got[id.String()] = true
		}
		assert.Equal(t, want, got)
	})
}
