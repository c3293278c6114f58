package catalog_test

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/Keksclan/rawrcache"
	"github.com/Keksclan/rawrcache/catalog"
	"github.com/Keksclan/rawrcache/policy"
)

const bufSize = 1024 * 1024

func startServer(t *testing.T, opts []grpc.ServerOption, h catalog.Handler) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer(opts...)
	catalog.Register(s, h)
	t.Cleanup(func() { s.Stop() })
	go func() { _ = s.Serve(lis) }()
	return lis
}

func dial(t *testing.T, lis *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newEngine(t *testing.T) *rawrcache.Engine {
	t.Helper()
	e, err := rawrcache.New(rawrcache.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestRegisterService(t *testing.T) {
	s := grpc.NewServer()
	catalog.Register(s, catalog.CachedHandler(newEngine(t), time.Minute, nil))
	si, ok := s.GetServiceInfo()[catalog.ServiceName]
	if !ok {
		t.Fatal("rawr.Catalog service not registered")
	}
	if len(si.Methods) != 1 || si.Methods[0].Name != "Lookup" {
		t.Fatalf("unexpected methods: %+v", si.Methods)
	}
}

func TestLookupViaBufconn_CachesItems(t *testing.T) {
	var loads atomic.Int32
	src := func(_ context.Context, id string) ([]byte, error) {
		loads.Add(1)
		return []byte("item-" + id), nil
	}
	e := newEngine(t)
	lis := startServer(t, nil, catalog.CachedHandler(e, time.Minute, src))
	conn := dial(t, lis)

	for range 3 {
		got, err := catalog.Lookup(t.Context(), conn, "42")
		if err != nil {
			t.Fatalf("Lookup RPC failed: %v", err)
		}
		if string(got) != "item-42" {
			t.Fatalf("expected %q, got %q", "item-42", got)
		}
	}
	if n := loads.Load(); n != 1 {
		t.Fatalf("source called %d times, want 1", n)
	}
}

func TestLookup_EmptyID(t *testing.T) {
	e := newEngine(t)
	lis := startServer(t, nil, catalog.CachedHandler(e, time.Minute, nil))
	conn := dial(t, lis)

	_, err := catalog.Lookup(t.Context(), conn, "")
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestLookup_ConcurrentRPCsThroughEngineInterceptor(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})
	src := func(_ context.Context, id string) ([]byte, error) {
		loads.Add(1)
		<-release
		return []byte("item-" + id), nil
	}
	e := newEngine(t)
	resolver := policy.NewResolver(
		policy.Group("catalog").
			Prefix("/rawr.Catalog/").
			Policy(policy.Policy{Dedupe: &policy.DedupeRule{}, Timeout: 5 * time.Second}),
	)
	lis := startServer(t, e.ServerOptions(resolver), catalog.CachedHandler(e, time.Minute, src))
	conn := dial(t, lis)

	const n = 6
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = catalog.Lookup(t.Context(), conn, "7")
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if n := loads.Load(); n != 1 {
		t.Fatalf("source called %d times, want 1", n)
	}
}
