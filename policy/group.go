// Package policy resolves a full gRPC method name to the value attached to
// the best-matching method group. The server uses it to pick a rate-limit
// bucket per method or per service prefix.
package policy

import (
	"regexp"
	"strings"
)

// matchKind distinguishes the three matching strategies.
type matchKind int

const (
	kindExact  matchKind = iota // highest priority
	kindPrefix                  // medium priority
	kindRegex                   // lowest priority
)

type rule struct {
	kind    matchKind
	pattern string         // exact and prefix
	re      *regexp.Regexp // regex
}

// Group is a named set of matching rules carrying one value.
type Group[T any] struct {
	name  string
	rules []rule
	value T
}

// NewGroup starts a method group that resolves to value.
func NewGroup[T any](name string, value T) *Group[T] {
	return &Group[T]{name: name, value: value}
}

// Name returns the group name.
func (g *Group[T]) Name() string { return g.name }

// Exact adds an exact-match rule for pattern.
func (g *Group[T]) Exact(pattern string) *Group[T] {
	g.rules = append(g.rules, rule{kind: kindExact, pattern: pattern})
	return g
}

// Prefix adds a prefix-match rule for pattern.
func (g *Group[T]) Prefix(pattern string) *Group[T] {
	g.rules = append(g.rules, rule{kind: kindPrefix, pattern: pattern})
	return g
}

// Regex adds a regex-match rule for pattern. An invalid regex panics.
func (g *Group[T]) Regex(pattern string) *Group[T] {
	g.rules = append(g.rules, rule{kind: kindRegex, pattern: pattern, re: regexp.MustCompile(pattern)})
	return g
}

// match returns the length of the part of fullMethod that r covers, or -1
// when r does not apply.
func (r rule) match(fullMethod string) int {
	switch r.kind {
	case kindExact:
		if fullMethod == r.pattern {
			return len(fullMethod)
		}
	case kindPrefix:
		if strings.HasPrefix(fullMethod, r.pattern) {
			return len(r.pattern)
		}
	case kindRegex:
		if loc := r.re.FindStringIndex(fullMethod); loc != nil {
			return loc[1] - loc[0]
		}
	}
	return -1
}
