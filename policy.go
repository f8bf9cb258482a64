package bulkfetch

import (
	"strings"
)

// Policy is a bitset modifying the behavior of a query, or, for Daemon, of
// the Coordinator itself. Values combine with bitwise OR.
type Policy uint32

const (
	// None requests the default behavior: dispatch on the periodic tick,
	// complete when no non-errored keys remain outstanding, and surface
	// errored keys as resolved-without-value.
	None Policy = 0

	// Retry keeps a query registered while any of its keys are within an
	// error cool-off window, emitting a partial result once every key is
	// either resolved or within cool-off. Errored keys hold the query open,
	// rather than resolving as value-less entries.
	Retry Policy = 1 << iota >> 1

	// Asap triggers an immediate dispatch on submit, routes the query's keys
	// via the high priority class, and applies the shorter error back-off
	// base.
	Asap

	// Wait defers emission until every key has a concrete resolution, either
	// a value or not-found. Errors never satisfy the query.
	Wait

	// Refresh evicts the query's keys from the value cache on submit, and
	// requires a fresh response for a key before it becomes eligible for
	// completion. Not-found markers and error history are not cleared.
	Refresh

	// Daemon is accepted at the Coordinator level for configuration
	// symmetry. Goroutines never pin process exit, so it has no scheduling
	// effect.
	Daemon

	// Unique rejects the submit if an equal query (same policy, same
	// listener identity, same key set) is already registered.
	Unique

	// Partial emits a result whenever the computed result map changes, not
	// only on completion.
	Partial

	// NoReplace rejects the submit if a query is already registered under
	// the same token.
	NoReplace
)

// Has reports whether all bits of p are set in x.
func (x Policy) Has(p Policy) bool { return x&p == p }

var policyNames = [...]struct {
	policy Policy
	name   string
}{
	{Retry, `retry`},
	{Asap, `asap`},
	{Wait, `wait`},
	{Refresh, `refresh`},
	{Daemon, `daemon`},
	{Unique, `unique`},
	{Partial, `partial`},
	{NoReplace, `noreplace`},
}

func (x Policy) String() string {
	if x == None {
		return `none`
	}
	var b strings.Builder
	for _, v := range policyNames {
		if x.Has(v.policy) {
			if b.Len() != 0 {
				b.WriteByte('|')
			}
			b.WriteString(v.name)
		}
	}
	return b.String()
}
