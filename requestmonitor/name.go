package requestmonitor

import "sync"

// TraceName is a lazily-resolved trace label: either a plain string known
// up front, or a callback evaluated at most once. A trace whose
// resolved name is empty is treated as "do not monitor" (spec.md §3).
type TraceName struct {
	once     sync.Once
	eager    string
	deferred func() string
	resolved string
}

// EagerName wraps a name that is already known.
func EagerName(name string) *TraceName {
	return &TraceName{eager: name}
}

// DeferredName wraps a callback resolved on first read.
func DeferredName(fn func() string) *TraceName {
	return &TraceName{deferred: fn}
}

// Resolve returns the memoized name, computing it on first call.
func (n *TraceName) Resolve() string {
	if n == nil {
		return ""
	}
	n.once.Do(func() {
		if n.deferred != nil {
			n.resolved = n.deferred()
		} else {
			n.resolved = n.eager
		}
	})
	return n.resolved
}
