package bulkfetch

import (
	"time"
)

type (
	// store holds all per-key cache state. Access is serialized by the
	// Coordinator's lock.
	store[K comparable, V any] struct {
		values   ValueStore[K, V]
		notFound map[K]struct{}
		errs     map[K]errorState
		pending  map[K]time.Time
	}

	// errorState tracks consecutive transient errors for a key, since the
	// last success or not-found.
	errorState struct {
		at    time.Time
		count int
	}
)

func newStore[K comparable, V any](values ValueStore[K, V]) *store[K, V] {
	if values == nil {
		values = newMapStore[K, V]()
	}
	return &store[K, V]{
		values:   values,
		notFound: make(map[K]struct{}),
		errs:     make(map[K]errorState),
		pending:  make(map[K]time.Time),
	}
}

// setValue records a successful resolution, clearing the not-found marker,
// the error history, and the pending stamp for the key.
func (x *store[K, V]) setValue(k K, v V) {
	x.values.Set(k, v)
	delete(x.notFound, k)
	delete(x.errs, k)
	delete(x.pending, k)
}

// setNotFound records a permanent no-such-key resolution. The value is
// removed, a key is never simultaneously cached and not-found.
func (x *store[K, V]) setNotFound(k K) {
	x.values.Delete(k)
	x.notFound[k] = struct{}{}
	delete(x.errs, k)
	delete(x.pending, k)
}

// setError records a transient error at the given time. Any prior cached
// value is retained.
func (x *store[K, V]) setError(k K, now time.Time) {
	x.errs[k] = errorState{at: now, count: x.errs[k].count + 1}
	delete(x.pending, k)
}

// markRequested stamps the key as in flight upstream.
func (x *store[K, V]) markRequested(k K, now time.Time) {
	x.pending[k] = now
}

func (x *store[K, V]) value(k K) (V, bool) { return x.values.Get(k) }

func (x *store[K, V]) deleteValue(k K) { x.values.Delete(k) }

func (x *store[K, V]) isNotFound(k K) bool {
	_, ok := x.notFound[k]
	return ok
}

func (x *store[K, V]) isPending(k K) bool {
	_, ok := x.pending[k]
	return ok
}

func (x *store[K, V]) lastError(k K) (errorState, bool) {
	es, ok := x.errs[k]
	return es, ok
}
