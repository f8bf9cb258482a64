package bulkfetch

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/jonboulle/clockwork"
)

type (
	// Requester performs the actual upstream work, and is invoked with three
	// disjoint key sets, in priority order. Implementations may act on any
	// subset of asap and normal, and may ignore backlog entirely, it is
	// informational. For each key accepted into an upstream call,
	// [Coordinator.MarkRequested] must be called before any I/O, and one of
	// [Coordinator.SetValue], [Coordinator.SetNotFound], or
	// [Coordinator.SetError] must eventually follow.
	//
	// The Coordinator's lock is not held during the call. The context is
	// canceled when the Coordinator closes.
	Requester[K comparable, V any] interface {
		Request(ctx context.Context, coordinator *Coordinator[K, V], asap, normal, backlog map[K]struct{})
	}

	// RequesterFunc implements Requester.
	RequesterFunc[K comparable, V any] func(ctx context.Context, coordinator *Coordinator[K, V], asap, normal, backlog map[K]struct{})

	// Listener receives result snapshots for a query. The Coordinator's lock
	// is not held during the call, so implementations may freely call back
	// into the Coordinator. Implementations must not panic; any failure is
	// the caller's responsibility.
	Listener[K comparable, V any] interface {
		HandleResult(result *Result[K, V])
	}

	// ListenerFunc implements Listener.
	ListenerFunc[K comparable, V any] func(result *Result[K, V])

	// Config models optional configuration, for New.
	Config[K comparable, V any] struct {
		// Interval specifies the period of the dispatch tick, if positive.
		// **Defaults to 10s, if 0, or Config is nil.**
		// Setting this < 0 disables the periodic tick; dispatch then only
		// occurs on Asap submits, or via explicit Dispatch calls.
		Interval time.Duration

		// Policy applies Coordinator-level policy bits, i.e. Daemon. Query
		// policy bits here are ignored.
		Policy Policy

		// Logger is the optional destination for diagnostics. A nil logger
		// is disabled.
		Logger *logiface.Logger[logiface.Event]

		// Clock is the time source for back-off accounting, pending stamps,
		// and the dispatch tick. Defaults to the real clock. Tests may
		// substitute a fake.
		Clock clockwork.Clock

		// Store is the backing store for cached values. Defaults to an
		// unbounded map store. See also NewLRUStore.
		Store ValueStore[K, V]

		// EqualValues compares values, to suppress duplicate result
		// emissions. Defaults to reflect.DeepEqual.
		EqualValues func(a, b V) bool
	}

	// Coordinator aggregates single-key interests into bulk upstream
	// requests, against a single data domain. Instances must be initialized
	// using the New factory, and hold one scheduler goroutine until Close or
	// Shutdown is called.
	Coordinator[K comparable, V any] struct {
		requester Requester[K, V]
		interval  time.Duration
		policy    Policy
		log       *logiface.Logger[logiface.Event]
		clock     clockwork.Clock
		equal     func(a, b V) bool

		ctx      context.Context
		cancel   context.CancelFunc
		done     chan struct{}
		stopped  chan struct{}
		stopOnce sync.Once

		// guards workStopped against wg.Wait, see beginWork
		workMu      sync.Mutex
		workStopped bool
		wg          sync.WaitGroup

		dispatching atomic.Bool
		dispatches  atomic.Uint64
		emissions   atomic.Uint64

		mu      sync.Mutex
		store   *store[K, V]
		queries map[Token]*query[K, V]
		order   []Token
	}

	// Stats is a snapshot of the Coordinator's counters, see
	// [Coordinator.Stats].
	Stats struct {
		// Queries is the number of registered (incomplete) queries.
		Queries int
		// Pending is the number of keys currently in flight upstream.
		Pending int
		// Values is the number of cached values.
		Values int
		// NotFound is the number of keys marked not-found.
		NotFound int
		// Errored is the number of keys with a recorded transient error.
		Errored int
		// Dispatches counts requester invocations.
		Dispatches uint64
		// Emissions counts listener invocations.
		Emissions uint64
	}
)

func (x RequesterFunc[K, V]) Request(ctx context.Context, coordinator *Coordinator[K, V], asap, normal, backlog map[K]struct{}) {
	x(ctx, coordinator, asap, normal, backlog)
}

func (x ListenerFunc[K, V]) HandleResult(result *Result[K, V]) { x(result) }

// New initializes a new Coordinator, using the provided Config and
// Requester. The provided config may be nil. A panic will occur if requester
// is nil.
//
// The Coordinator.Close method and/or Coordinator.Shutdown method should be
// called when the Coordinator is no longer needed.
func New[K comparable, V any](config *Config[K, V], requester Requester[K, V]) *Coordinator[K, V] {
	if requester == nil {
		panic(`bulkfetch: nil requester`)
	}

	coordinator := Coordinator[K, V]{
		requester: requester,
		interval:  time.Second * 10,
		clock:     clockwork.NewRealClock(),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		queries:   make(map[Token]*query[K, V]),
	}

	var valueStore ValueStore[K, V]
	if config != nil {
		if config.Interval != 0 {
			coordinator.interval = config.Interval
		}
		coordinator.policy = config.Policy
		coordinator.log = config.Logger
		if config.Clock != nil {
			coordinator.clock = config.Clock
		}
		valueStore = config.Store
		coordinator.equal = config.EqualValues
	}

	coordinator.store = newStore[K, V](valueStore)

	if coordinator.equal == nil {
		coordinator.equal = func(a, b V) bool { return reflect.DeepEqual(a, b) }
	}

	coordinator.ctx, coordinator.cancel = context.WithCancel(context.Background())

	go coordinator.run()

	return &coordinator
}

// Close immediately stops the scheduler and prevents further submits,
// blocking until the scheduler goroutine has exited. The context passed to
// any in-flight requester invocation is canceled.
func (x *Coordinator[K, V]) Close() error {
	x.stop()
	x.cancel()
	<-x.done
	return nil
}

// Shutdown stops the scheduler and prevents further submits, then waits for
// any in-flight dispatch or listener delivery to finish. An error will be
// returned if ctx is canceled prior to this, causing a forced Close.
//
// This method is unsafe to call from within a Requester or Listener.
func (x *Coordinator[K, V]) Shutdown(ctx context.Context) (err error) {
	x.stop()

	idle := make(chan struct{})
	go func() {
		defer close(idle)
		x.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		if x.ctx.Err() == nil {
			err = ctx.Err() // indicating we forcibly closed
		}
	case <-idle:
	}

	x.cancel()
	<-x.done

	return err
}

func (x *Coordinator[K, V]) stop() {
	x.stopOnce.Do(func() {
		x.workMu.Lock()
		x.workStopped = true
		x.workMu.Unlock()
		close(x.stopped)
	})
}

// beginWork registers a unit of work (dispatch or completion pass) against
// the shutdown wait group, unless the Coordinator has stopped. Callers must
// pair a true return with wg.Done.
func (x *Coordinator[K, V]) beginWork() bool {
	x.workMu.Lock()
	defer x.workMu.Unlock()
	if x.workStopped {
		return false
	}
	x.wg.Add(1)
	return true
}

func (x *Coordinator[K, V]) isStopped() bool {
	select {
	case <-x.stopped:
		return true
	default:
		return false
	}
}

func (x *Coordinator[K, V]) run() {
	defer close(x.done)

	if x.interval <= 0 {
		select {
		case <-x.ctx.Done():
		case <-x.stopped:
		}
		return
	}

	ticker := x.clock.NewTicker(x.interval)
	defer ticker.Stop()

	for {
		select {
		case <-x.ctx.Done():
			return
		case <-x.stopped:
			return
		case <-ticker.Chan():
			x.Dispatch()
		}
	}
}

// Submit registers a query for the given keys, returning the token under
// which it was registered. Submitting with a nil token mints a fresh unique
// token; reusing a caller-supplied token replaces any query previously
// registered under it, silently dropping the replaced query.
//
// A nil return indicates the query was not registered: the key set was
// empty, the Coordinator is closed, or a policy bit (Unique, NoReplace)
// rejected it. The listener may be nil.
//
// If the new query is already fully satisfiable from cache it may complete,
// and its listener be called, before Submit returns. With Asap, the
// requester is likewise invoked before Submit returns.
func (x *Coordinator[K, V]) Submit(token Token, listener Listener[K, V], policy Policy, keys ...K) Token {
	if len(keys) == 0 || x.isStopped() {
		return nil
	}

	q := newQuery(listener, policy, keys)

	if !x.registerQuery(&token, q) {
		return nil
	}

	x.complete()

	if policy.Has(Asap) {
		x.Dispatch()
	}

	return token
}

// registerQuery applies the submit-time policy bits, and registers q,
// mutating token if minted. A false return indicates rejection.
func (x *Coordinator[K, V]) registerQuery(token *Token, q *query[K, V]) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if q.policy.Has(Unique) {
		for _, existing := range x.queries {
			if q.equal(existing) {
				return false
			}
		}
	}

	if *token == nil {
		*token = newMintedToken()
	} else if _, ok := x.queries[*token]; ok && q.policy.Has(NoReplace) {
		return false
	}

	if q.policy.Has(Refresh) {
		for k := range q.keys {
			x.store.deleteValue(k)
		}
	}

	if _, ok := x.queries[*token]; !ok {
		x.order = append(x.order, *token)
	}
	x.queries[*token] = q

	return true
}

// Get returns the cached value for k, if any.
func (x *Coordinator[K, V]) Get(k K) (V, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.store.value(k)
}

// GetOrSubmit computes the current result snapshot for the given query
// definition. If every key already has a resolution, per the same policy
// rules applied by result delivery, the snapshot alone is returned, and no
// query is registered. Otherwise the partial snapshot is returned together
// with the token of a newly registered query; the snapshot is recorded as
// the query's last emitted result, so an identical result is not emitted to
// the listener again.
//
// A nil token with a non-nil result indicates the snapshot was complete, or
// that registration was rejected (per Submit). Both return values are nil
// only for an empty key set, or a closed Coordinator.
func (x *Coordinator[K, V]) GetOrSubmit(token Token, listener Listener[K, V], policy Policy, keys ...K) (*Result[K, V], Token) {
	if len(keys) == 0 || x.isStopped() {
		return nil, nil
	}

	q := newQuery(listener, policy, keys)

	x.mu.Lock()
	results, _ := x.computeResult(q, x.clock.Now())
	for k := range results {
		q.accepted[k] = struct{}{}
	}
	q.last = results
	x.mu.Unlock()

	snapshot := &Result[K, V]{values: results, all: len(results) == len(q.keys)}

	if snapshot.all {
		return snapshot, nil
	}

	if !x.registerQuery(&token, q) {
		return snapshot, nil
	}

	x.complete()

	if policy.Has(Asap) {
		x.Dispatch()
	}

	return snapshot, token
}

// SetValue records a successful resolution for k, clearing its not-found
// marker and error history, then runs a completion pass.
func (x *Coordinator[K, V]) SetValue(k K, v V) {
	x.mu.Lock()
	x.store.setValue(k, v)
	x.noteResponses(k)
	x.mu.Unlock()
	x.complete()
}

// SetValues is the bulk variant of SetValue, recording all entries under a
// single acquisition of the lock, followed by a single completion pass.
func (x *Coordinator[K, V]) SetValues(values map[K]V) {
	if len(values) == 0 {
		return
	}
	x.mu.Lock()
	for k, v := range values {
		x.store.setValue(k, v)
		x.noteResponses(k)
	}
	x.mu.Unlock()
	x.complete()
}

// SetNotFound records a permanent no-such-key resolution for each key,
// clearing any cached value and error history, then runs a completion pass.
func (x *Coordinator[K, V]) SetNotFound(keys ...K) {
	if len(keys) == 0 {
		return
	}
	x.mu.Lock()
	for _, k := range keys {
		x.store.setNotFound(k)
	}
	x.noteResponses(keys...)
	x.mu.Unlock()
	x.complete()
}

// SetError records a transient error for each key, incrementing its error
// count and starting a new cool-off window. Any cached value is retained.
func (x *Coordinator[K, V]) SetError(keys ...K) {
	if len(keys) == 0 {
		return
	}
	x.mu.Lock()
	now := x.clock.Now()
	for _, k := range keys {
		x.store.setError(k, now)
	}
	x.noteResponses(keys...)
	x.mu.Unlock()
	x.complete()
}

// MarkRequested stamps each key as in flight upstream, excluding it from
// dispatch until a response (value, not-found, or error) is recorded.
// Requesters must call this for every key they accept, before any I/O.
func (x *Coordinator[K, V]) MarkRequested(keys ...K) {
	if len(keys) == 0 {
		return
	}
	x.mu.Lock()
	now := x.clock.Now()
	for _, k := range keys {
		x.store.markRequested(k, now)
	}
	x.mu.Unlock()
	x.complete()
}

// noteResponses records a response against every registered query's
// per-query response set, for the keys belonging to that query. Callers must
// hold the lock.
func (x *Coordinator[K, V]) noteResponses(keys ...K) {
	for _, q := range x.queries {
		for _, k := range keys {
			if _, ok := q.keys[k]; ok {
				q.responses[k] = struct{}{}
			}
		}
	}
}

// PendingRequests returns the number of registered queries.
func (x *Coordinator[K, V]) PendingRequests() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.queries)
}

// Stats returns a snapshot of the Coordinator's counters.
func (x *Coordinator[K, V]) Stats() Stats {
	x.mu.Lock()
	stats := Stats{
		Queries:  len(x.queries),
		Pending:  len(x.store.pending),
		Values:   x.store.values.Len(),
		NotFound: len(x.store.notFound),
		Errored:  len(x.store.errs),
	}
	x.mu.Unlock()
	stats.Dispatches = x.dispatches.Load()
	stats.Emissions = x.emissions.Load()
	return stats
}

// Debug returns a short description of the Coordinator's current state.
func (x *Coordinator[K, V]) Debug() string {
	stats := x.Stats()
	return fmt.Sprintf(`queries=%d pending=%d`, stats.Queries, stats.Pending)
}
