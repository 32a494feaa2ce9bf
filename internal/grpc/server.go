package grpc

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	pb "github.com/JoJoGatito/koji-gallery/internal/grpc/cartv1"
)

// NewServer builds a traced gRPC server with the cart service registered.
func NewServer(srv *CartServiceServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	pb.RegisterCartServiceServer(s, srv)
	return s
}
