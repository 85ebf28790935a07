package executor

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// OffloadServer is the server API of the crypto offload service.
//
// Requests and replies are cryptobyte frames carried in protobuf
// BytesValue wrappers, so no protoc toolchain is needed.
type OffloadServer interface {
	Sign(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Verify(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error)
}

// UnimplementedOffloadServer can be embedded to have forward compatible implementations.
type UnimplementedOffloadServer struct{}

func (UnimplementedOffloadServer) Sign(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Sign not implemented")
}
func (UnimplementedOffloadServer) Verify(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Verify not implemented")
}

// RegisterOffloadServer registers the offload service on a gRPC server.
func RegisterOffloadServer(s grpc.ServiceRegistrar, srv OffloadServer) {
	s.RegisterService(&Offload_ServiceDesc, srv)
}

const (
	offloadService      = "v2xsec.executor.v1.Offload"
	offloadSignMethod   = "/" + offloadService + "/Sign"
	offloadVerifyMethod = "/" + offloadService + "/Verify"
)

// OffloadClient is the client API of the crypto offload service.
type OffloadClient interface {
	Sign(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Verify(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
}

type offloadClient struct{ cc grpc.ClientConnInterface }

func NewOffloadClient(cc grpc.ClientConnInterface) OffloadClient { return &offloadClient{cc: cc} }

func (c *offloadClient) Sign(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, offloadSignMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *offloadClient) Verify(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, offloadVerifyMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _Offload_Sign_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OffloadServer).Sign(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: offloadSignMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OffloadServer).Sign(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Offload_Verify_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OffloadServer).Verify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: offloadVerifyMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OffloadServer).Verify(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Offload_ServiceDesc is the grpc.ServiceDesc for the offload service.
var Offload_ServiceDesc = grpc.ServiceDesc{
	ServiceName: offloadService,
	HandlerType: (*OffloadServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Sign", Handler: _Offload_Sign_Handler},
		{MethodName: "Verify", Handler: _Offload_Verify_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "offload.proto",
}
