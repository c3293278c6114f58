// Package core holds the interceptor assembly shared by the engine's gRPC
// surface.
package core

import "google.golang.org/grpc"

// BuildServerOptions chains unary into a single interceptor and returns the
// grpc.ServerOption that installs it. It returns nil when unary is empty.
func BuildServerOptions(
	unary []grpc.UnaryServerInterceptor,
	chainUnary func([]grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor,
) []grpc.ServerOption {
	var opts []grpc.ServerOption
	if u := chainUnary(unary); u != nil {
		opts = append(opts, grpc.UnaryInterceptor(u))
	}
	return opts
}
