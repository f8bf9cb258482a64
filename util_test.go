package bulkfetch

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// checkNumGoroutines guards against leaked goroutines, waiting for the count
// to return to at most the level observed at setup.
func checkNumGoroutines(timeout time.Duration) func(t *testing.T) {
	before := runtime.NumGoroutine()
	return func(t *testing.T) {
		t.Helper()
		deadline := time.Now().Add(timeout)
		for {
			if runtime.NumGoroutine() <= before {
				return
			}
			if !time.Now().Before(deadline) {
				t.Errorf(`expected at most %d goroutines, got %d`, before, runtime.NumGoroutine())
				return
			}
			time.Sleep(time.Millisecond * 10)
		}
	}
}

type requesterArgs struct {
	asap    map[string]struct{}
	normal  map[string]struct{}
	backlog map[string]struct{}
}

// captureRequester records each invocation, without acting on it.
type captureRequester struct {
	ch chan requesterArgs
}

func newCaptureRequester() *captureRequester {
	return &captureRequester{ch: make(chan requesterArgs, 8)}
}

func (x *captureRequester) Request(_ context.Context, _ *Coordinator[string, int], asap, normal, backlog map[string]struct{}) {
	x.ch <- requesterArgs{asap, normal, backlog}
}

// take returns the next recorded invocation, which must already have
// occurred (all dispatch in these tests is synchronous).
func (x *captureRequester) take(t *testing.T) requesterArgs {
	t.Helper()
	select {
	case args := <-x.ch:
		return args
	default:
		t.Fatal(`expected a requester invocation`)
		return requesterArgs{}
	}
}

func (x *captureRequester) expectNone(t *testing.T) {
	t.Helper()
	select {
	case args := <-x.ch:
		t.Fatalf(`expected no requester invocation, got %v`, args)
	default:
	}
}

// chanListener delivers results on a buffered channel.
type chanListener struct {
	ch chan *Result[string, int]
}

func newChanListener() *chanListener {
	return &chanListener{ch: make(chan *Result[string, int], 8)}
}

func (x *chanListener) HandleResult(result *Result[string, int]) { x.ch <- result }

func (x *chanListener) take(t *testing.T) *Result[string, int] {
	t.Helper()
	select {
	case result := <-x.ch:
		return result
	default:
		t.Fatal(`expected a result emission`)
		return nil
	}
}

func (x *chanListener) expectNone(t *testing.T) {
	t.Helper()
	select {
	case result := <-x.ch:
		t.Fatalf(`expected no result emission, got %v`, result.values)
	default:
	}
}

// newTestCoordinator returns a coordinator with the periodic tick disabled
// and a fake clock, so tests drive dispatch and time explicitly.
func newTestCoordinator(t *testing.T, requester Requester[string, int]) (*Coordinator[string, int], *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	coordinator := New(&Config[string, int]{Interval: -1, Clock: clock}, requester)
	t.Cleanup(func() { _ = coordinator.Close() })
	return coordinator, clock
}

func keySet(keys ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// resolvedValues flattens a result for comparison: resolved keys with a
// value map to it, value-less resolutions map to -1.
func resolvedValues(result *Result[string, int]) map[string]int {
	out := make(map[string]int, result.Len())
	for _, k := range result.Keys() {
		if v, ok := result.Get(k); ok {
			out[k] = v
		} else {
			out[k] = -1
		}
	}
	return out
}
