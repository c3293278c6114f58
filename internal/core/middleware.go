package core

import (
	"cmp"
	"slices"

	"google.golang.org/grpc"
)

// middleware is a unary interceptor with a deterministic execution order.
// Lower Order values run first.
type middleware struct {
	Unary grpc.UnaryServerInterceptor
	Order int
}

// MiddlewareBuilder collects interceptors and produces a slice sorted by
// order, ready for chaining.
type MiddlewareBuilder struct {
	entries []middleware
}

// Add registers ic at the given order. A nil ic is ignored.
func (b *MiddlewareBuilder) Add(order int, ic grpc.UnaryServerInterceptor) {
	if ic == nil {
		return
	}
	b.entries = append(b.entries, middleware{Unary: ic, Order: order})
}

// Len returns the number of registered interceptors.
func (b *MiddlewareBuilder) Len() int { return len(b.entries) }

// Build sorts the collected interceptors by Order (stable, so equal orders
// keep registration order) and returns them.
func (b *MiddlewareBuilder) Build() []grpc.UnaryServerInterceptor {
	sorted := slices.Clone(b.entries)
	slices.SortStableFunc(sorted, func(a, c middleware) int {
		return cmp.Compare(a.Order, c.Order)
	})

	out := make([]grpc.UnaryServerInterceptor, 0, len(sorted))
	for _, m := range sorted {
		out = append(out, m.Unary)
	}
	return out
}
