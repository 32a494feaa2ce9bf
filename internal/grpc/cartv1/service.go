package cartv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	CartService_GetCart_FullMethodName     = "/" + ServiceName + "/GetCart"
	CartService_AddItem_FullMethodName     = "/" + ServiceName + "/AddItem"
	CartService_RemoveItem_FullMethodName  = "/" + ServiceName + "/RemoveItem"
	CartService_SetQuantity_FullMethodName = "/" + ServiceName + "/SetQuantity"
	CartService_ClearCart_FullMethodName   = "/" + ServiceName + "/ClearCart"
	CartService_WatchCart_FullMethodName   = "/" + ServiceName + "/WatchCart"
)

type CartServiceServer interface {
	GetCart(context.Context, *GetCartRequest) (*CartResponse, error)
	AddItem(context.Context, *AddItemRequest) (*CartResponse, error)
	RemoveItem(context.Context, *RemoveItemRequest) (*CartResponse, error)
	SetQuantity(context.Context, *SetQuantityRequest) (*CartResponse, error)
	ClearCart(context.Context, *ClearCartRequest) (*CartResponse, error)
	WatchCart(*WatchCartRequest, grpc.ServerStreamingServer[Cart]) error
}

// UnimplementedCartServiceServer can be embedded to have forward compatible implementations.
type UnimplementedCartServiceServer struct{}

func (UnimplementedCartServiceServer) GetCart(context.Context, *GetCartRequest) (*CartResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetCart not implemented")
}
func (UnimplementedCartServiceServer) AddItem(context.Context, *AddItemRequest) (*CartResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AddItem not implemented")
}
func (UnimplementedCartServiceServer) RemoveItem(context.Context, *RemoveItemRequest) (*CartResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RemoveItem not implemented")
}
func (UnimplementedCartServiceServer) SetQuantity(context.Context, *SetQuantityRequest) (*CartResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SetQuantity not implemented")
}
func (UnimplementedCartServiceServer) ClearCart(context.Context, *ClearCartRequest) (*CartResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ClearCart not implemented")
}
func (UnimplementedCartServiceServer) WatchCart(*WatchCartRequest, grpc.ServerStreamingServer[Cart]) error {
	return status.Error(codes.Unimplemented, "method WatchCart not implemented")
}

func RegisterCartServiceServer(s grpc.ServiceRegistrar, srv CartServiceServer) {
	s.RegisterService(&CartService_ServiceDesc, srv)
}

// unary adapts one typed method to the grpc.MethodDesc handler shape.
func unary[Req any](fullMethod string, call func(CartServiceServer, context.Context, *Req) (*CartResponse, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CartServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CartServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func _CartService_WatchCart_Handler(srv any, stream grpc.ServerStream) error {
	m := new(WatchCartRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(CartServiceServer).WatchCart(m, &grpc.GenericServerStream[WatchCartRequest, Cart]{ServerStream: stream})
}

var CartService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CartServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetCart",
			Handler:    unary(CartService_GetCart_FullMethodName, CartServiceServer.GetCart),
		},
		{
			MethodName: "AddItem",
			Handler:    unary(CartService_AddItem_FullMethodName, CartServiceServer.AddItem),
		},
		{
			MethodName: "RemoveItem",
			Handler:    unary(CartService_RemoveItem_FullMethodName, CartServiceServer.RemoveItem),
		},
		{
			MethodName: "SetQuantity",
			Handler:    unary(CartService_SetQuantity_FullMethodName, CartServiceServer.SetQuantity),
		},
		{
			MethodName: "ClearCart",
			Handler:    unary(CartService_ClearCart_FullMethodName, CartServiceServer.ClearCart),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchCart",
			Handler:       _CartService_WatchCart_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "koji/cart/v1/cart_service",
}

// CartServiceClient calls the service with the JSON codec.
type CartServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewCartServiceClient(cc grpc.ClientConnInterface) *CartServiceClient {
	return &CartServiceClient{cc: cc}
}

func (c *CartServiceClient) invoke(ctx context.Context, method string, in any, opts []grpc.CallOption) (*CartResponse, error) {
	out := new(CartResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CartServiceClient) GetCart(ctx context.Context, in *GetCartRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return c.invoke(ctx, CartService_GetCart_FullMethodName, in, opts)
}

func (c *CartServiceClient) AddItem(ctx context.Context, in *AddItemRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return c.invoke(ctx, CartService_AddItem_FullMethodName, in, opts)
}

func (c *CartServiceClient) RemoveItem(ctx context.Context, in *RemoveItemRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return c.invoke(ctx, CartService_RemoveItem_FullMethodName, in, opts)
}

func (c *CartServiceClient) SetQuantity(ctx context.Context, in *SetQuantityRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return c.invoke(ctx, CartService_SetQuantity_FullMethodName, in, opts)
}

func (c *CartServiceClient) ClearCart(ctx context.Context, in *ClearCartRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return c.invoke(ctx, CartService_ClearCart_FullMethodName, in, opts)
}

func (c *CartServiceClient) WatchCart(ctx context.Context, in *WatchCartRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Cart], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &CartService_ServiceDesc.Streams[0], CartService_WatchCart_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchCartRequest, Cart]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
