package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/v2xsec/model"
)

// Client is the offload backend: an Executor that forwards to a remote
// OffloadServer.
type Client struct {
	cc     *grpc.ClientConn
	client OffloadClient

	// Timeout applies per RPC when non-zero. An expired RPC is reported as
	// model.ErrPending.
	Timeout time.Duration
}

var _ Executor = (*Client)(nil)

// Dial connects to an offload daemon.
func Dial(target string, timeout time.Duration) (*Client, error) {
	cc, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, model.Wrap(model.ErrUnavailable, "executor: dial "+target, err)
	}
	return &Client{cc: cc, client: NewOffloadClient(cc), Timeout: timeout}, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface, timeout time.Duration) *Client {
	return &Client{client: NewOffloadClient(cc), Timeout: timeout}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) rpcCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

func (c *Client) Sign(ctx context.Context, priv, digest []byte, mode model.PointMode) (model.Signature, error) {
	req, err := encodeSignRequest(priv, digest, mode)
	if err != nil {
		return model.Signature{}, err
	}
	ctx, cancel := c.rpcCtx(ctx)
	defer cancel()
	reply, err := c.client.Sign(ctx, wrapperspb.Bytes(req))
	if err != nil {
		return model.Signature{}, fromStatus(err)
	}
	return decodeSignature(reply.GetValue())
}

func (c *Client) Verify(ctx context.Context, pub, digest []byte, sig model.Signature) error {
	req, err := encodeVerifyRequest(pub, digest, sig)
	if err != nil {
		return err
	}
	ctx, cancel := c.rpcCtx(ctx)
	defer cancel()
	reply, err := c.client.Verify(ctx, wrapperspb.Bytes(req))
	if err != nil {
		return fromStatus(err)
	}
	if !reply.GetValue() {
		return errBadSignature("rejected by offload backend")
	}
	return nil
}

// fromStatus maps a gRPC status back into the model code space. Servers put
// the code name before the first colon of the status message.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return model.Wrap(model.ErrUnavailable, "executor: offload", err)
	}
	switch st.Code() {
	case codes.DeadlineExceeded, codes.Canceled:
		return model.Wrap(model.ErrPending, "executor: offload timed out", err)
	case codes.Unavailable, codes.ResourceExhausted:
		return model.Wrap(model.ErrUnavailable, "executor: offload unavailable", err)
	}
	if name, _, found := strings.Cut(st.Message(), ":"); found {
		if code, ok := model.ParseCode(name); ok && code != model.OK {
			return model.Wrap(code, "executor: offload", errors.New(st.Message()))
		}
	}
	if st.Code() == codes.InvalidArgument {
		return model.Wrap(model.ErrInvalidArgument, "executor: offload", err)
	}
	return model.Wrap(model.ErrInternal, "executor: offload", err)
}

// Server exposes an Executor over the offload service.
type Server struct {
	UnimplementedOffloadServer
	Executor Executor
}

func (s *Server) Sign(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Executor == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing executor")
	}
	priv, digest, mode, err := decodeSignRequest(in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	sig, err := s.Executor.Sign(ctx, priv, digest, mode)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := encodeSignature(sig)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(out), nil
}

func (s *Server) Verify(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error) {
	if s == nil || s.Executor == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing executor")
	}
	pub, digest, sig, err := decodeVerifyRequest(in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	err = s.Executor.Verify(ctx, pub, digest, sig)
	switch {
	case err == nil:
		return wrapperspb.Bool(true), nil
	case model.IsCode(err, model.ErrBadSignature):
		return wrapperspb.Bool(false), nil
	default:
		return nil, toStatus(err)
	}
}

func toStatus(err error) error {
	code := model.CodeOf(err)
	switch code.Class() {
	case model.ClassMalformed:
		return status.Error(codes.InvalidArgument, err.Error())
	case model.ClassPending:
		return status.Error(codes.Unavailable, err.Error())
	case model.ClassResource:
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.FailedPrecondition, err.Error())
	}
}
