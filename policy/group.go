package policy

import (
	"regexp"
	"time"
)

// RateLimitRule describes a rate-limiting policy for a group of methods.
type RateLimitRule struct {
	// Rate is the maximum number of requests allowed within Window.
	Rate int
	// Window is the time window for the rate limit.
	Window time.Duration
}

// DedupeRule enables request deduplication for a group of methods:
// identical concurrent requests share one handler invocation.
type DedupeRule struct {
	// Retain keeps a successful response for reuse by identical requests
	// arriving within this window after it settled. Zero disables retention.
	Retain time.Duration
	// Capacity bounds how many retained responses are kept. Zero leaves the
	// count unbounded; Retain still applies.
	Capacity int
	// Metadata lists incoming metadata keys, such as "authorization", whose
	// values become part of the request identity. Requests that differ in
	// any listed key never share a handler run or a retained response.
	// Unlisted metadata is ignored.
	Metadata []string
}

// Policy holds the configuration that applies to a matched method group.
type Policy struct {
	RateLimit *RateLimitRule
	Dedupe    *DedupeRule
	// Timeout bounds the handler of a deduplicated call. Zero means no bound
	// beyond the handler's own.
	Timeout time.Duration
}

// matchKind distinguishes the three matching strategies.
type matchKind int

const (
	kindExact  matchKind = iota // highest priority
	kindPrefix                  // medium priority
	kindRegex                   // lowest priority
)

// rule is a single matching rule inside a group.
type rule struct {
	kind    matchKind
	pattern string         // used for exact and prefix matches
	re      *regexp.Regexp // used for regex matches
}

// GroupBuilder constructs a method group with one or more matching rules and
// a policy.
type GroupBuilder struct {
	name   string
	rules  []rule
	policy *Policy
}

// Group starts building a new method group with the given name.
func Group(name string) *GroupBuilder {
	return &GroupBuilder{name: name}
}

// Exact adds an exact-match rule for pattern.
func (g *GroupBuilder) Exact(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindExact, pattern: pattern})
	return g
}

// Prefix adds a prefix-match rule for pattern.
func (g *GroupBuilder) Prefix(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindPrefix, pattern: pattern})
	return g
}

// Regex adds a regex-match rule for pattern.
// The pattern is compiled immediately; an invalid regex will panic.
func (g *GroupBuilder) Regex(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindRegex, pattern: pattern, re: regexp.MustCompile(pattern)})
	return g
}

// Policy attaches a Policy to the group and returns the finished builder.
func (g *GroupBuilder) Policy(p Policy) *GroupBuilder {
	g.policy = &p
	return g
}
