package interceptors

import (
	"context"
	"slices"

	"google.golang.org/grpc"
)

// ChainUnary composes unary interceptors into one. The first interceptor is
// the outermost; nil entries are skipped. It returns nil when nothing is left.
//
// Put recovery first and deduplication last so that a shared handler run
// sits directly under the dedup group.
func ChainUnary(interceptors []grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	ics := slices.DeleteFunc(slices.Clone(interceptors), func(ic grpc.UnaryServerInterceptor) bool {
		return ic == nil
	})
	if len(ics) == 0 {
		return nil
	}
	if len(ics) == 1 {
		return ics[0]
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var step func(i int) grpc.UnaryHandler
		step = func(i int) grpc.UnaryHandler {
			if i == len(ics) {
				return handler
			}
			return func(ctx context.Context, req any) (any, error) {
				return ics[i](ctx, req, info, step(i+1))
			}
		}
		return step(0)(ctx, req)
	}
}
