package interceptors

import (
	"context"
	"sync"

	"github.com/Keksclan/rawrcache/policy"
	"github.com/Keksclan/rawrcache/ratelimit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errRateLimited = status.Error(codes.ResourceExhausted, "rate limit exceeded")

// limiters maps methods to the limiter that governs them. Group limiters are
// built on first use and shared by every method of the group.
type limiters struct {
	global   *ratelimit.Limiter
	resolver *policy.Resolver

	mu     sync.RWMutex
	groups map[string]*ratelimit.Limiter
}

func (ls *limiters) forMethod(fullMethod string) *ratelimit.Limiter {
	if ls.resolver == nil {
		return ls.global
	}
	name, pol, ok := ls.resolver.Resolve(fullMethod)
	if !ok || pol == nil || pol.RateLimit == nil {
		return ls.global
	}
	rl := pol.RateLimit
	if rl.Rate <= 0 || rl.Window <= 0 {
		return nil
	}

	ls.mu.RLock()
	l := ls.groups[name]
	ls.mu.RUnlock()
	if l != nil {
		return l
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if l = ls.groups[name]; l == nil {
		l = ratelimit.NewLimiter(float64(rl.Rate)/rl.Window.Seconds(), rl.Rate)
		ls.groups[name] = l
	}
	return l
}

// RateLimitUnary rejects calls with ResourceExhausted once the applicable
// limiter is exhausted. A method whose group carries a RateLimit rule uses
// that group's limiter; every other method uses global, and a nil global
// leaves them unlimited. A rule with a non-positive Rate or Window disables
// limiting for its group.
func RateLimitUnary(global *ratelimit.Limiter, r *policy.Resolver) grpc.UnaryServerInterceptor {
	ls := &limiters{global: global, resolver: r, groups: make(map[string]*ratelimit.Limiter)}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if l := ls.forMethod(info.FullMethod); l != nil && !l.Allow() {
			return nil, errRateLimited
		}
		return handler(ctx, req)
	}
}
