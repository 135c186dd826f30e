package grpc

import (
	"context"

	grpcpkg "google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "trading.v1.PurchaseService"

// Full method names.
const (
	SubmitMethod    = "/" + ServiceName + "/Submit"
	GetStatusMethod = "/" + ServiceName + "/GetStatus"
)

// PurchaseServiceServer is the server side of trading.v1.PurchaseService.
// Messages travel as google.protobuf.Struct.
type PurchaseServiceServer interface {
	Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterPurchaseServiceServer registers srv on s.
func RegisterPurchaseServiceServer(s grpcpkg.ServiceRegistrar, srv PurchaseServiceServer) {
	s.RegisterService(&purchaseServiceDesc, srv)
}

func unaryHandler(method string, call func(PurchaseServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpcpkg.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpcpkg.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PurchaseServiceServer), ctx, in)
		}
		info := &grpcpkg.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(PurchaseServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

var purchaseServiceDesc = grpcpkg.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PurchaseServiceServer)(nil),
	Methods: []grpcpkg.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler(SubmitMethod, PurchaseServiceServer.Submit)},
		{MethodName: "GetStatus", Handler: unaryHandler(GetStatusMethod, PurchaseServiceServer.GetStatus)},
	},
	Streams:  []grpcpkg.StreamDesc{},
	Metadata: "trading/v1/purchase.proto",
}

// PurchaseServiceClient calls trading.v1.PurchaseService.
type PurchaseServiceClient struct {
	cc grpcpkg.ClientConnInterface
}

func NewPurchaseServiceClient(cc grpcpkg.ClientConnInterface) *PurchaseServiceClient {
	return &PurchaseServiceClient{cc: cc}
}

func (c *PurchaseServiceClient) Submit(ctx context.Context, in *structpb.Struct, opts ...grpcpkg.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SubmitMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PurchaseServiceClient) GetStatus(ctx context.Context, in *structpb.Struct, opts ...grpcpkg.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetStatusMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
