package bulkfetch

type (
	// Result is a snapshot of resolutions for some or all of a query's keys,
	// delivered to the query's Listener, or returned synchronously by
	// [Coordinator.GetOrSubmit].
	//
	// A key is resolved when it is present in the result. A resolved key
	// either carries a value, or resolved without one, meaning it was
	// reported not-found, or its most recent error was surfaced (per the
	// query's policy).
	Result[K comparable, V any] struct {
		values map[K]*V
		all    bool
	}
)

// Len returns the number of resolved keys.
func (x *Result[K, V]) Len() int { return len(x.values) }

// Has reports whether k is resolved, with or without a value.
func (x *Result[K, V]) Has(k K) bool {
	_, ok := x.values[k]
	return ok
}

// Get returns the value for k. It returns false if k is unresolved, or
// resolved without a value.
func (x *Result[K, V]) Get(k K) (value V, ok bool) {
	if v, exists := x.values[k]; exists && v != nil {
		return *v, true
	}
	return value, false
}

// Keys returns the resolved keys, in no particular order.
func (x *Result[K, V]) Keys() []K {
	keys := make([]K, 0, len(x.values))
	for k := range x.values {
		keys = append(keys, k)
	}
	return keys
}

// HasAllKeys reports whether every key of the originating query is resolved.
// A query is removed from the coordinator after its first (and only) result
// with HasAllKeys true.
func (x *Result[K, V]) HasAllKeys() bool { return x.all }

// equalResultMaps implements the value equality used to suppress duplicate
// emissions. A nil entry only equals another nil entry.
func equalResultMaps[K comparable, V any](a, b map[K]*V, eq func(a, b V) bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || (av == nil) != (bv == nil) {
			return false
		}
		if av != nil && !eq(*av, *bv) {
			return false
		}
	}
	return true
}
