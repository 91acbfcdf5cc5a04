package rpc

import (
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
)

// NewGRPCServer builds the *grpc.Server each daemon listens on for its own
// control plane, forced onto the json codec registered in codec.go and
// instrumented with grpc_prometheus, the same interceptor lnd's rpcserver.go
// chains in front of lnrpc.
func NewGRPCServer(extra ...grpc.UnaryServerInterceptor) *grpc.Server {
	interceptors := append([]grpc.UnaryServerInterceptor{grpc_prometheus.UnaryServerInterceptor}, extra...)
	return grpc.NewServer(
		grpc.ForceServerCodec(Codec()),
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(interceptors...)),
	)
}

// EnableMetrics registers every method on registered services with
// grpc_prometheus's default histograms; call once after all
// Register*Service calls against server.
func EnableMetrics(server *grpc.Server) {
	grpc_prometheus.Register(server)
}
