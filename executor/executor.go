// Package executor is the cryptographic capability boundary of the security
// layer: ECDSA P-256 signing and verification over precomputed digests.
//
// Backends are chosen by name at configuration time (see Open). The
// "software" backend runs in-process; the "offload" backend forwards every
// operation to a v2xsec-hsmd daemon over gRPC so keys and curve arithmetic
// can live on dedicated hardware.
package executor

import (
	"context"
	"fmt"
	"time"

	"xdao.co/v2xsec/model"
)

// Executor signs and verifies digests.
//
// Public keys are SEC1 points (compressed or uncompressed); private keys are
// 32-byte big-endian scalars. Verify returns a *model.Error with code
// ErrBadSignature when the signature does not verify, and a Pending-class
// code when the backend could not answer in time.
type Executor interface {
	Sign(ctx context.Context, priv, digest []byte, mode model.PointMode) (model.Signature, error)
	Verify(ctx context.Context, pub, digest []byte, sig model.Signature) error
}

// Future is the pending result of an asynchronous verification.
type Future struct {
	done chan struct{}
	err  error
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the verification result. It must only be called after Done is closed.
func (f *Future) Err() error { return f.err }

// Wait blocks until the result is available or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return model.Wrap(model.ErrPending, "executor: verification still outstanding", ctx.Err())
	}
}

// Resolved returns a Future that is already complete.
func Resolved(err error) *Future {
	f := &Future{done: make(chan struct{}), err: err}
	close(f.done)
	return f
}

// VerifyAsync starts a verification and returns immediately.
func VerifyAsync(ctx context.Context, ex Executor, pub, digest []byte, sig model.Signature) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.err = ex.Verify(ctx, pub, digest, sig)
	}()
	return f
}

// Config selects and configures a backend.
type Config struct {
	Backend string        `yaml:"backend"`
	Target  string        `yaml:"target"`
	Timeout time.Duration `yaml:"timeout"`
}

// Backends lists the names accepted by Open.
var Backends = []string{"software", "offload"}

// Open constructs the configured backend. The returned close function is never nil.
func Open(cfg Config) (Executor, func() error, error) {
	switch cfg.Backend {
	case "", "software":
		return NewSoftware(nil), func() error { return nil }, nil
	case "offload":
		if cfg.Target == "" {
			return nil, nil, model.NewError(model.ErrInvalidArgument, "executor: offload backend requires a target")
		}
		c, err := Dial(cfg.Target, cfg.Timeout)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	default:
		return nil, nil, model.Errorf(model.ErrUnsupported, "executor: unknown backend %q (want one of %v)", cfg.Backend, Backends)
	}
}

func errBadSignature(format string, args ...any) error {
	return model.Errorf(model.ErrBadSignature, "executor: "+format, args...)
}

func checkDigest(digest []byte) error {
	switch len(digest) {
	case 32, 48:
		return nil
	default:
		return model.NewError(model.ErrInvalidArgument, fmt.Sprintf("executor: digest of %d bytes", len(digest)))
	}
}
