package interceptors

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestRecoveryUnary_Panic_ReturnsInternal(t *testing.T) {
	ic := RecoveryUnary(slog.New(slog.DiscardHandler))
	handler := func(_ context.Context, _ any) (any, error) {
		panic("boom")
	}

	resp, err := ic(t.Context(), "req", &grpc.UnaryServerInfo{}, handler)
	if resp != nil {
		t.Fatalf("expected nil response, got %v", resp)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected gRPC status error, got %v", err)
	}
	if st.Code() != codes.Internal {
		t.Fatalf("expected codes.Internal, got %v", st.Code())
	}
}

func TestRecoveryUnary_NoPanic_Passthrough(t *testing.T) {
	ic := RecoveryUnary(slog.New(slog.DiscardHandler))
	handler := func(_ context.Context, req any) (any, error) {
		return req, nil
	}

	resp, err := ic(t.Context(), "hello", &grpc.UnaryServerInfo{}, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "hello" {
		t.Fatalf("expected %q, got %v", "hello", resp)
	}
}

func TestRecoveryUnary_NonStringPanic_ReturnsInternal(t *testing.T) {
	ic := RecoveryUnary(slog.New(slog.DiscardHandler))
	handler := func(_ context.Context, _ any) (any, error) {
		panic(42)
	}

	resp, err := ic(t.Context(), "req", &grpc.UnaryServerInfo{}, handler)
	if resp != nil {
		t.Fatalf("expected nil response, got %v", resp)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected gRPC status error, got %v", err)
	}
	if st.Code() != codes.Internal {
		t.Fatalf("expected codes.Internal, got %v", st.Code())
	}
}

func TestRecoveryUnary_LogsPanic(t *testing.T) {
	var buf bytes.Buffer
	ic := RecoveryUnary(slog.New(slog.NewTextHandler(&buf, nil)))
	handler := func(_ context.Context, _ any) (any, error) {
		panic("boom")
	}

	_, _ = ic(t.Context(), "req", &grpc.UnaryServerInfo{FullMethod: "/svc/Method"}, handler)
	out := buf.String()
	if !strings.Contains(out, "handler panicked") || !strings.Contains(out, "method=/svc/Method") {
		t.Fatalf("unexpected log output: %s", out)
	}
}
