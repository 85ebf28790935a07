package keys

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/v2xsec/executor"
	"xdao.co/v2xsec/model"
)

func TestStoreLifecycle(t *testing.T) {
	ks, err := Open(t.TempDir())
	require.NoError(t, err)

	root := seedOf(9)
	k, err := ks.Create("dev-root", root, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ks.Dir(), "dev-root.seed"), k.Path)
	_, err = ks.Create("dev-root", root, false)
	assert.Error(t, err, "existing key without overwrite")
	_, err = ks.Create("dev-root", root, true)
	assert.NoError(t, err)

	role, err := ks.Derive("dev-root", "caterpillar", false)
	require.NoError(t, err)
	assert.NotEqual(t, k.Public, role.Public)

	got, err := ks.Public("dev-root", "")
	require.NoError(t, err)
	assert.Equal(t, k.Public, got)
	got, err = ks.Public("dev-root", "caterpillar")
	require.NoError(t, err)
	assert.Equal(t, role.Public, got)

	fi, err := os.Stat(k.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	seed, err := ks.Resolve(SeedSource{Name: "dev-root"})
	require.NoError(t, err)
	assert.Equal(t, root, seed)
	seed, err = ks.Resolve(SeedSource{Hex: "0x" + hex.EncodeToString(root), Name: "missing"})
	require.NoError(t, err)
	assert.Equal(t, root, seed)
	seed, err = ks.Resolve(SeedSource{File: role.Path})
	require.NoError(t, err)
	derived, err := DeriveRoleSeed(root, "caterpillar")
	require.NoError(t, err)
	assert.Equal(t, derived, seed)
	_, err = ks.Resolve(SeedSource{})
	assert.ErrorIs(t, err, ErrNoSeed)
}

func TestStoreRejectsBadNames(t *testing.T) {
	ks, err := Open(t.TempDir())
	require.NoError(t, err)
	for _, name := range []string{"", "../x", "a.b", "a/b"} {
		_, err := ks.Create(name, seedOf(1), false)
		assert.Error(t, err, name)
	}
	_, err = ks.Create("ok", seedOf(1), false)
	require.NoError(t, err)
	_, err = ks.Derive("ok", "x.y", false)
	assert.Error(t, err)
	_, err = ks.Derive("ok", "", false)
	assert.Error(t, err)
	_, err = ks.Derive("absent", "role", false)
	assert.Error(t, err)
}

func TestStoreList(t *testing.T) {
	ks, err := Open(filepath.Join(t.TempDir(), "not-yet"))
	require.NoError(t, err)
	list, err := ks.List()
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = ks.Create("b", seedOf(2), false)
	require.NoError(t, err)
	_, err = ks.Create("a", seedOf(1), false)
	require.NoError(t, err)
	for _, role := range []string{"z", "m"} {
		_, err = ks.Derive("a", role, false)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(ks.Dir(), "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(ks.Dir(), "bad..seed"), []byte("x"), 0o600))

	list, err = ks.List()
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Name: "a", Roles: []string{"m", "z"}}, {Name: "b"}}, list)
}

func TestSignVerifiesWithExecutor(t *testing.T) {
	ctx := context.Background()
	ex := executor.NewSoftware(nil)
	seed := seedOf(3)
	msg := []byte("development certificate")
	pub, err := PublicKeyFromSeed(seed)
	require.NoError(t, err)

	for _, mode := range []model.PointMode{model.PointXOnly, model.PointCompressed} {
		sig, err := Sign(ctx, ex, seed, msg, model.SHA256, mode)
		require.NoError(t, err)

		parsed, err := ParseSignature(FormatSignature(sig))
		require.NoError(t, err)
		assert.Equal(t, sig, parsed)
		assert.NoError(t, Verify(ctx, ex, pub, msg, model.SHA256, parsed))

		err = Verify(ctx, ex, pub, []byte("other"), model.SHA256, parsed)
		assert.Equal(t, model.ErrBadSignature, model.CodeOf(err))
	}

	other, err := PublicKeyFromSeed(seedOf(4))
	require.NoError(t, err)
	sig, err := Sign(ctx, ex, seed, msg, model.SHA256, model.PointXOnly)
	require.NoError(t, err)
	assert.Error(t, Verify(ctx, ex, other, msg, model.SHA256, sig))
}

func TestParseSignatureRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"p256:00",
		"p256sig:zz",
		"p256sig:",
		"p256sig:07" + hex.EncodeToString(make([]byte, 64)),
		"p256sig:00" + hex.EncodeToString(make([]byte, 63)),
		"p256sig:01" + hex.EncodeToString(make([]byte, 64)),
	} {
		_, err := ParseSignature(s)
		assert.Error(t, err, s)
	}
}
