package executor

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"xdao.co/v2xsec/model"
)

func newKey(t *testing.T) (priv, pub []byte) {
	t.Helper()
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	priv = k.D.FillBytes(make([]byte, 32))
	pub = elliptic.MarshalCompressed(elliptic.P256(), k.X, k.Y)
	return priv, pub
}

func TestSoftwareSignVerify(t *testing.T) {
	ctx := context.Background()
	ex := NewSoftware(nil)
	priv, pub := newKey(t)

	digest, err := SignerDigest(model.SHA256, []byte("tbs"), []byte("cert"))
	require.NoError(t, err)

	for _, mode := range []model.PointMode{model.PointXOnly, model.PointCompressed} {
		sig, err := ex.Sign(ctx, priv, digest, mode)
		require.NoError(t, err)
		assert.Equal(t, mode, sig.Mode)
		if mode == model.PointCompressed {
			assert.Len(t, sig.R, model.CompressedPointSize)
		} else {
			assert.Len(t, sig.R, 32)
		}
		require.NoError(t, ex.Verify(ctx, pub, digest, sig))

		bad := sig
		bad.S[31] ^= 1
		assert.True(t, model.IsCode(ex.Verify(ctx, pub, digest, bad), model.ErrBadSignature))

		other := append([]byte(nil), digest...)
		other[0] ^= 1
		assert.True(t, model.IsCode(ex.Verify(ctx, pub, other, sig), model.ErrBadSignature))
	}
}

func TestSoftwareVerifyInteropWithStdlib(t *testing.T) {
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	digest, err := Digest(model.SHA384, []byte("payload"))
	require.NoError(t, err)

	r, s, err := ecdsa.Sign(rand.Reader, k, digest)
	require.NoError(t, err)
	sig := model.Signature{Mode: model.PointXOnly, R: r.FillBytes(make([]byte, 32))}
	s.FillBytes(sig.S[:])

	pub := elliptic.MarshalCompressed(elliptic.P256(), k.X, k.Y)
	assert.NoError(t, NewSoftware(nil).Verify(context.Background(), pub, digest, sig))
}

func TestSoftwareRejectsBadInputs(t *testing.T) {
	ctx := context.Background()
	ex := NewSoftware(nil)
	priv, _ := newKey(t)
	digest := make([]byte, 32)

	_, err := ex.Sign(ctx, priv, digest[:20], model.PointXOnly)
	assert.True(t, model.IsCode(err, model.ErrInvalidArgument))
	_, err = ex.Sign(ctx, make([]byte, 32), digest, model.PointXOnly)
	assert.True(t, model.IsCode(err, model.ErrInvalidArgument))

	sig := model.Signature{Mode: model.PointXOnly, R: make([]byte, 32)}
	err = ex.Verify(ctx, []byte{0x02, 0x01}, digest, sig)
	assert.True(t, model.IsCode(err, model.ErrInvalidPoint))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = ex.Sign(canceled, priv, digest, model.PointXOnly)
	assert.Equal(t, model.ClassPending, model.CodeOf(err).Class())
}

func TestVerifyAsync(t *testing.T) {
	ctx := context.Background()
	ex := NewSoftware(nil)
	priv, pub := newKey(t)
	digest, _ := Digest(model.SHA256, []byte("x"))
	sig, err := ex.Sign(ctx, priv, digest, model.PointXOnly)
	require.NoError(t, err)

	f := VerifyAsync(ctx, ex, pub, digest, sig)
	assert.NoError(t, f.Wait(ctx))
	<-f.Done()
	assert.NoError(t, f.Err())

	assert.True(t, model.IsCode(Resolved(model.NewError(model.ErrBadSignature, "x")).Wait(ctx), model.ErrBadSignature))
}

func TestOpen(t *testing.T) {
	ex, closeFn, err := Open(Config{Backend: "software"})
	require.NoError(t, err)
	assert.IsType(t, &Software{}, ex)
	assert.NoError(t, closeFn())

	_, _, err = Open(Config{Backend: "offload"})
	assert.True(t, model.IsCode(err, model.ErrInvalidArgument))
	_, _, err = Open(Config{Backend: "tpm"})
	assert.True(t, model.IsCode(err, model.ErrUnsupported))
}

type blockingExecutor struct{ Executor }

func (blockingExecutor) Verify(ctx context.Context, _, _ []byte, _ model.Signature) error {
	<-ctx.Done()
	return ctx.Err()
}

func startOffload(t *testing.T, backend Executor, timeout time.Duration) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterOffloadServer(srv, &Server{Executor: backend})
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.DialContext(
		context.Background(),
		"bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return NewClient(cc, timeout)
}

func TestOffloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := startOffload(t, NewSoftware(nil), 2*time.Second)
	priv, pub := newKey(t)
	digest, _ := Digest(model.SHA256, []byte("offloaded"))

	sig, err := client.Sign(ctx, priv, digest, model.PointCompressed)
	require.NoError(t, err)
	require.NoError(t, client.Verify(ctx, pub, digest, sig))
	require.NoError(t, NewSoftware(nil).Verify(ctx, pub, digest, sig))

	sig.S[0] ^= 0x80
	assert.True(t, model.IsCode(client.Verify(ctx, pub, digest, sig), model.ErrBadSignature))

	err = client.Verify(ctx, []byte{0x05}, digest, sig)
	assert.True(t, model.IsCode(err, model.ErrInvalidPoint), "got %v", err)

	_, err = client.Sign(ctx, make([]byte, 32), digest, model.PointXOnly)
	assert.True(t, model.IsCode(err, model.ErrInvalidArgument), "got %v", err)
}

func TestOffloadTimeoutIsPending(t *testing.T) {
	client := startOffload(t, blockingExecutor{NewSoftware(nil)}, 50*time.Millisecond)
	_, pub := newKey(t)
	digest, _ := Digest(model.SHA256, []byte("slow"))

	err := client.Verify(context.Background(), pub, digest, model.Signature{R: make([]byte, 32)})
	assert.True(t, model.IsCode(err, model.ErrPending), "got %v", err)
	assert.True(t, model.CodeOf(err).Retryable())
}
