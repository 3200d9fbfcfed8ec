package policy

// Resolver picks the best-matching group for a method name. It is read-only
// after construction and safe for concurrent use.
type Resolver[T any] struct {
	groups []*Group[T]
}

// NewResolver creates a Resolver from groups. Nil groups are skipped.
func NewResolver[T any](groups ...*Group[T]) *Resolver[T] {
	r := &Resolver[T]{}
	for _, g := range groups {
		if g != nil {
			r.groups = append(r.groups, g)
		}
	}
	return r
}

// Len returns the number of groups.
func (res *Resolver[T]) Len() int {
	if res == nil {
		return 0
	}
	return len(res.groups)
}

// Resolve finds the best-matching group for fullMethod.
//
// Priority rules:
//   - Exact matches beat prefix matches, which beat regex matches.
//   - Among matches of the same kind the longer match wins.
//   - On a tie the group registered first wins.
//
// A nil Resolver matches nothing.
func (res *Resolver[T]) Resolve(fullMethod string) (groupName string, value T, ok bool) {
	if res == nil {
		return "", value, false
	}
	bestKind := matchKind(-1)
	bestLen := -1

	for _, g := range res.groups {
		for _, r := range g.rules {
			mLen := r.match(fullMethod)
			if mLen < 0 {
				continue
			}
			// A lower kind value means higher priority.
			better := bestKind < 0 ||
				r.kind < bestKind ||
				(r.kind == bestKind && mLen > bestLen)
			if better {
				bestKind = r.kind
				bestLen = mLen
				groupName = g.name
				value = g.value
				ok = true
			}
		}
	}
	return groupName, value, ok
}
