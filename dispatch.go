package bulkfetch

import (
	"math"
	"time"
)

// errorDelayCap bounds the error cool-off window.
const errorDelayCap = time.Second * 1800

// Dispatch runs one pass of selecting due keys, and invokes the requester
// with the resulting priority classes, if any keys are due. It runs on the
// periodic tick and on Asap submits, and may also be called directly.
//
// Dispatch is not reentrant; overlapping calls are dropped, with a warning.
func (x *Coordinator[K, V]) Dispatch() {
	if !x.dispatching.CompareAndSwap(false, true) {
		x.log.Warning().Log(`bulkfetch: dispatch dropped: already in progress`)
		return
	}
	defer x.dispatching.Store(false)

	if !x.beginWork() {
		return
	}
	defer x.wg.Done()

	asap := make(map[K]struct{})
	normal := make(map[K]struct{})
	backlog := make(map[K]struct{})

	x.mu.Lock()
	now := x.clock.Now()
	for _, token := range x.order {
		q := x.queries[token]
		for k := range q.keys {
			if x.store.isPending(k) {
				continue
			}
			if _, ok := q.accepted[k]; ok {
				continue
			}
			switch {
			case !x.checkError(now, k, q):
				backlog[k] = struct{}{}
			case q.policy.Has(Asap):
				asap[k] = struct{}{}
			default:
				normal[k] = struct{}{}
			}
		}
	}
	x.mu.Unlock()

	// resolve overlaps by priority
	for k := range asap {
		delete(normal, k)
		delete(backlog, k)
	}
	for k := range normal {
		delete(backlog, k)
	}

	if len(asap) == 0 && len(normal) == 0 {
		return
	}

	x.dispatches.Add(1)
	x.log.Trace().
		Int(`asap`, len(asap)).
		Int(`normal`, len(normal)).
		Int(`backlog`, len(backlog)).
		Log(`bulkfetch: dispatching`)

	x.requester.Request(x.ctx, x, asap, normal, backlog)
}

// checkError reports whether k is currently eligible for dispatch, for the
// given query. Keys of a Refresh query are always eligible until their first
// response within the query's lifetime. Otherwise a key is eligible if it
// has no recorded error, or its cool-off window has elapsed.
func (x *Coordinator[K, V]) checkError(now time.Time, k K, q *query[K, V]) bool {
	if q.policy.Has(Refresh) && !q.responded(k) {
		return true
	}
	es, ok := x.store.lastError(k)
	if !ok {
		return true
	}
	return now.Sub(es.at) > errorDelay(es.count, q.policy)
}

// errorDelay computes the cool-off window after a transient error, from the
// number of consecutive errors. The base is 2s for Asap queries, else 10s.
//
// The curve is extremely steep: a single error with the default base yields
// a 10s window, and any further error saturates at the cap.
func errorDelay(errorCount int, policy Policy) time.Duration {
	base := float64(10)
	if policy.Has(Asap) {
		base = 2
	}
	seconds := base * math.Pow(float64(errorCount), 10)
	if seconds > errorDelayCap.Seconds() {
		return errorDelayCap
	}
	return time.Duration(seconds * float64(time.Second))
}
