package localfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/v2xsec/cidutil"
	"xdao.co/v2xsec/storage"
	"xdao.co/v2xsec/storage/casregistry"
	"xdao.co/v2xsec/storage/testkit"
)

func TestLocalFS_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		t.Helper()
		cas, err := New(t.TempDir())
		require.NoError(t, err)
		return cas
	})
}

func TestLocalFS_RejectMutationByOverwrite(t *testing.T) {
	cas, err := New(t.TempDir())
	require.NoError(t, err)

	orig := []byte("original certificate")
	id, err := cas.Put(orig)
	require.NoError(t, err)

	path := cas.pathFor(id)
	require.NoError(t, os.Chmod(path, 0o644))
	require.NoError(t, os.WriteFile(path, []byte("corrupted"), 0o644))

	_, err = cas.Get(id)
	assert.ErrorIs(t, err, storage.ErrCIDMismatch)

	_, err = cas.Put(orig)
	assert.ErrorIs(t, err, storage.ErrImmutable)

	assert.Equal(t, cidutil.Sum(orig).CID(), id)
}

func TestLocalFS_ListSkipsStrayFiles(t *testing.T) {
	dir := t.TempDir()
	cas, err := New(dir)
	require.NoError(t, err)

	a, err := cas.Put([]byte("a"))
	require.NoError(t, err)
	b, err := cas.Put([]byte("b"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "zz"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zz", "not-a-cid"), []byte("x"), 0o644))

	ids, err := storage.List(cas)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.ElementsMatch(t, []string{a.String(), b.String()}, []string{ids[0].String(), ids[1].String()})
}

func TestLocalFS_Registered(t *testing.T) {
	_, _, err := casregistry.Open("localfs", casregistry.UsageCLI, nil)
	assert.Error(t, err)

	cas, closeFn, err := casregistry.Open("localfs", casregistry.UsageDaemon, map[string]string{"dir": t.TempDir()})
	require.NoError(t, err)
	assert.Nil(t, closeFn)
	_, err = cas.Put([]byte("x"))
	assert.NoError(t, err)
}
