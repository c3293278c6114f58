package policy

import "github.com/Keksclan/rawrcache/cache"

// memoSize bounds the number of distinct method names whose resolution is
// remembered.
const memoSize = 1024

// resolution is a memoized Resolve result.
type resolution struct {
	group string
	pol   *Policy
	ok    bool
}

// Resolver holds a set of method groups and resolves a full gRPC method name
// to the best-matching group and its associated policy. Results are memoized
// per method name, so the rules are evaluated once per method.
type Resolver struct {
	groups []*GroupBuilder
	memo   *cache.Cache[string, resolution]
}

// NewResolver creates a Resolver from the supplied group builders. Groups
// must not be modified afterwards.
func NewResolver(groups ...*GroupBuilder) *Resolver {
	return &Resolver{
		groups: groups,
		memo:   cache.MustNew[string, resolution](cache.WithName("policy"), cache.WithCapacity(memoSize)),
	}
}

// Resolve finds the best-matching group for fullMethod.
//
// Priority rules:
//   - Exact matches beat prefix matches, which beat regex matches.
//   - Among matches of the same kind the longer match wins.
//   - When two matches have equal kind and length the group that was
//     registered first (stable order) wins.
//
// If no group matches, ok is false.
func (res *Resolver) Resolve(fullMethod string) (groupName string, pol *Policy, ok bool) {
	if r, hit := res.memo.Get(fullMethod); hit {
		return r.group, r.pol, r.ok
	}
	groupName, pol, ok = res.resolve(fullMethod)
	res.memo.Set(fullMethod, resolution{group: groupName, pol: pol, ok: ok})
	return groupName, pol, ok
}

func (res *Resolver) resolve(fullMethod string) (groupName string, pol *Policy, ok bool) {
	best := none
	for _, g := range res.groups {
		for i := range g.rules {
			if sc := g.rules[i].score(fullMethod); sc.beats(best) {
				best, groupName, pol, ok = sc, g.name, g.policy, true
			}
		}
	}
	return groupName, pol, ok
}
