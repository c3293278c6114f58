package interceptors

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/Keksclan/rawrcache/fingerprint"
	"github.com/Keksclan/rawrcache/flight"
	"github.com/Keksclan/rawrcache/policy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// Dedup holds one flight group per method group, created lazily from the
// group's DedupeRule.
type Dedup struct {
	resolver *policy.Resolver
	opts     []flight.Option

	mu     sync.Mutex
	groups map[string]*flight.Group[any]
}

func (s *Dedup) groupFor(name string, rule *policy.DedupeRule) (*flight.Group[any], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.groups[name]; ok {
		return g, nil
	}
	opts := append([]flight.Option{}, s.opts...)
	opts = append(opts, flight.WithName(name))
	if rule.Retain > 0 {
		opts = append(opts, flight.WithRetention(rule.Capacity, rule.Retain))
	}
	g, err := flight.New[any](opts...)
	if err != nil {
		return nil, err
	}
	s.groups[name] = g
	return g, nil
}

func (s *Dedup) intercept(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	if s.resolver == nil {
		return handler(ctx, req)
	}
	name, pol, ok := s.resolver.Resolve(info.FullMethod)
	if !ok || pol == nil || pol.Dedupe == nil {
		return handler(ctx, req)
	}
	// Requests without a canonical form are served individually.
	key, err := fingerprint.Of(info.FullMethod, identity(ctx, pol.Dedupe.Metadata), req)
	if err != nil {
		return handler(ctx, req)
	}
	g, err := s.groupFor(name, pol.Dedupe)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "dedupe group %q: %v", name, err)
	}

	resp, err := g.Do(ctx, key, func(pctx context.Context) (any, error) {
		if pol.Timeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(pctx, pol.Timeout)
			defer cancel()
		}
		return handler(pctx, req)
	})
	if err != nil {
		return nil, dedupError(err)
	}
	// Every caller gets its own copy of a shared message.
	if m, ok := resp.(proto.Message); ok {
		return proto.Clone(m), nil
	}
	return resp, nil
}

// identity returns the values of keys in the incoming metadata. Absent keys
// map to nil so that a missing header differs from an empty one.
func identity(ctx context.Context, keys []string) map[string][]string {
	if len(keys) == 0 {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	id := make(map[string][]string, len(keys))
	for _, k := range keys {
		id[strings.ToLower(k)] = md.Get(k)
	}
	return id
}

func dedupError(err error) error {
	var pe *flight.PanicError
	if errors.As(err, &pe) {
		return errInternal
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	return err
}

// NewDedup returns a Dedup for the groups r resolves. opts are applied to
// every per-group flight.Group, e.g. to share a logger or metrics sink; the
// group's name and retention come from its policy.
func NewDedup(r *policy.Resolver, opts ...flight.Option) *Dedup {
	return &Dedup{resolver: r, opts: opts, groups: make(map[string]*flight.Group[any])}
}

// Unary returns a unary server interceptor that collapses identical
// concurrent requests to methods whose policy carries a DedupeRule. Requests
// are identical when their full method, fingerprinted message and the
// metadata keys listed in DedupeRule.Metadata match. One handler invocation
// serves all of them, and with DedupeRule.Retain its response is reused for a
// while after it settled. Each caller receives its own clone of a proto
// response.
//
// Callers are not told apart by anything else: two users sending the same
// message share one response unless a key that identifies them, such as
// "authorization", is listed in DedupeRule.Metadata.
func (s *Dedup) Unary() grpc.UnaryServerInterceptor { return s.intercept }

// Close stops the retention sweepers of every group created so far.
func (s *Dedup) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, g := range s.groups {
		errs = append(errs, g.Close())
	}
	return errors.Join(errs...)
}

// DedupUnary is shorthand for NewDedup(r, opts...).Unary(). Identical
// requests from different callers share a response unless the rule lists
// identifying metadata keys; see Dedup.Unary.
func DedupUnary(r *policy.Resolver, opts ...flight.Option) grpc.UnaryServerInterceptor {
	return NewDedup(r, opts...).Unary()
}
