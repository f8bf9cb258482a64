package bulkfetch

import (
	"reflect"

	"golang.org/x/exp/maps"
)

type (
	// Token identifies a registered query, for replacement and dedupe.
	// Caller-supplied tokens must be comparable, and are matched by value.
	// Tokens minted by the Coordinator (when submitting with a nil token)
	// are unique, matching only themselves.
	Token any

	mintedToken struct{ _ byte }

	// query is a registered interest in a set of keys. All fields other than
	// the bookkeeping sets are fixed at submission. Access is serialized by
	// the Coordinator's lock.
	query[K comparable, V any] struct {
		listener Listener[K, V]
		policy   Policy
		keys     map[K]struct{}

		// accepted tracks keys that have appeared in any computed (or
		// seeded) result, whether or not it was emitted, excluding them from
		// dispatch.
		accepted map[K]struct{}
		// responses tracks keys that received any response (value, not-found
		// or error) since this query was submitted.
		responses map[K]struct{}
		// last is the most recently emitted result map, for dedupe.
		last map[K]*V
	}
)

func newMintedToken() Token { return new(mintedToken) }

func newQuery[K comparable, V any](listener Listener[K, V], policy Policy, keys []K) *query[K, V] {
	q := query[K, V]{
		listener:  listener,
		policy:    policy,
		keys:      make(map[K]struct{}, len(keys)),
		accepted:  make(map[K]struct{}),
		responses: make(map[K]struct{}),
	}
	for _, k := range keys {
		q.keys[k] = struct{}{}
	}
	return &q
}

func (x *query[K, V]) responded(k K) bool {
	_, ok := x.responses[k]
	return ok
}

// equal implements query equality: same policy, same listener identity, and
// the same key set.
func (x *query[K, V]) equal(other *query[K, V]) bool {
	return x.policy == other.policy &&
		sameListener(x.listener, other.listener) &&
		maps.Equal(x.keys, other.keys)
}

// sameListener compares listeners by identity. Comparable implementations
// (e.g. pointer receivers) compare directly; func adapters compare by code
// pointer.
func sameListener[K comparable, V any](a, b Listener[K, V]) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if av.Type() != bv.Type() {
		return false
	}
	if av.Type().Comparable() {
		return a == b
	}
	if av.Kind() == reflect.Func {
		return av.Pointer() == bv.Pointer()
	}
	return false
}
