package bulkfetch

import (
	"time"
)

type emission[K comparable, V any] struct {
	listener Listener[K, V]
	result   *Result[K, V]
}

// complete walks the query registry, computes each query's result against
// its policy, and delivers emissions. It runs after every submit and every
// ingestion call. The lock is held while computing, and released before
// listeners are invoked; delivery follows registration order.
func (x *Coordinator[K, V]) complete() {
	if !x.beginWork() {
		return
	}
	defer x.wg.Done()

	var emissions []emission[K, V]

	x.mu.Lock()
	now := x.clock.Now()
	var removed int
	for _, token := range x.order {
		q := x.queries[token]

		results, waitErrors := x.computeResult(q, now)
		for k := range results {
			q.accepted[k] = struct{}{}
		}

		hasAll := len(results) == len(q.keys)
		hasAllOrErrors := len(results)+waitErrors == len(q.keys)

		emit := hasAll ||
			((q.policy.Has(Partial) || q.policy.Has(Retry)) &&
				len(results) != 0 &&
				(q.policy.Has(Partial) || hasAllOrErrors))

		if emit && q.last != nil && equalResultMaps(results, q.last, x.equal) {
			emit = false
		}

		if !emit {
			continue
		}

		q.last = results
		if q.listener != nil {
			emissions = append(emissions, emission[K, V]{
				listener: q.listener,
				result:   &Result[K, V]{values: results, all: hasAll},
			})
		}
		if hasAll {
			delete(x.queries, token)
			removed++
		}
	}
	if removed != 0 {
		order := x.order[:0]
		for _, token := range x.order {
			if _, ok := x.queries[token]; ok {
				order = append(order, token)
			}
		}
		x.order = order
	}
	x.mu.Unlock()

	for _, e := range emissions {
		x.emissions.Add(1)
		e.listener.HandleResult(e.result)
	}
}

// computeResult builds the result map for q at the given time, returning it
// together with the number of keys held back in an error cool-off window
// (under Retry or Wait). Callers must hold the lock.
//
// A key resolves to a value if cached, to a value-less entry if not-found,
// and, unless the query's policy defers errors, to a value-less entry while
// within its error cool-off window. Keys of a Refresh query are ineligible
// until their first response within the query's lifetime.
func (x *Coordinator[K, V]) computeResult(q *query[K, V], now time.Time) (map[K]*V, int) {
	results := make(map[K]*V)
	var waitErrors int

	for k := range q.keys {
		if q.policy.Has(Refresh) && !q.responded(k) {
			continue
		}
		if v, ok := x.store.value(k); ok {
			v := v
			results[k] = &v
			continue
		}
		if x.store.isNotFound(k) {
			results[k] = nil
			continue
		}
		if es, ok := x.store.lastError(k); ok && now.Sub(es.at) < errorDelay(es.count, q.policy) {
			if q.policy.Has(Retry) || q.policy.Has(Wait) {
				waitErrors++
			} else {
				results[k] = nil
			}
		}
	}

	return results, waitErrors
}
