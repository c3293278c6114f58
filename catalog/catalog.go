// Package catalog provides a small read-through Lookup RPC for demos and
// end-to-end tests. It registers through grpc.ServiceDesc and uses the
// well-known wrapper messages, so no protobuf code generation is required.
package catalog

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/Keksclan/rawrcache/store"
)

// ServiceName and LookupMethod identify the RPC.
const (
	ServiceName  = "rawr.Catalog"
	LookupMethod = "/rawr.Catalog/Lookup"
)

// Handler is the interface that a Catalog service implementation must satisfy.
type Handler interface {
	Lookup(ctx context.Context, id *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
}

// Fetcher reads through a cache; *rawrcache.Engine implements it.
type Fetcher interface {
	Fetch(ctx context.Context, key string, ttl time.Duration, load store.LoadFunc) ([]byte, error)
}

// Source loads an item by id on a cache miss.
type Source func(ctx context.Context, id string) ([]byte, error)

// CachedHandler returns a Handler that serves items through f, loading
// misses from src and caching them for ttl.
func CachedHandler(f Fetcher, ttl time.Duration, src Source) Handler {
	return cachedHandler{f: f, ttl: ttl, src: src}
}

type cachedHandler struct {
	f   Fetcher
	ttl time.Duration
	src Source
}

func (h cachedHandler) Lookup(ctx context.Context, id *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if id.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	v, err := h.f.Fetch(ctx, "item:"+id.GetValue(), h.ttl, func(ctx context.Context) ([]byte, error) {
		return h.src(ctx, id.GetValue())
	})
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(v), nil
}

// ServiceDesc is the grpc.ServiceDesc for the rawr.Catalog service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Lookup",
			Handler:    lookupHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rawr/catalog.proto",
}

func lookupHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(wrapperspb.StringValue)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).Lookup(ctx, req)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: LookupMethod,
	}
	handler := func(ctx context.Context, r any) (any, error) {
		return srv.(Handler).Lookup(ctx, r.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, req, info, handler)
}

// Register registers a Catalog service implementation on the given gRPC server.
func Register(s *grpc.Server, h Handler) {
	s.RegisterService(&ServiceDesc, h)
}

// Lookup calls the Lookup RPC over conn.
func Lookup(ctx context.Context, conn grpc.ClientConnInterface, id string) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := conn.Invoke(ctx, LookupMethod, wrapperspb.String(id), out); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}
