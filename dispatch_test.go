package bulkfetch

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
)

func TestErrorDelay(t *testing.T) {
	for _, tc := range [...]struct {
		name   string
		count  int
		policy Policy
		want   time.Duration
	}{
		{`no errors`, 0, None, 0},
		{`no errors asap`, 0, Asap, 0},
		{`first error`, 1, None, time.Second * 10},
		{`first error asap`, 1, Asap, time.Second * 2},
		{`second error saturates`, 2, None, errorDelayCap},
		{`second error asap saturates`, 2, Asap, errorDelayCap},
		{`third error`, 3, None, errorDelayCap},
		{`large count does not overflow`, 1 << 20, None, errorDelayCap},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errorDelay(tc.count, tc.policy))
		})
	}
}

// keys in cool-off surface via backlog; classes are disjoint
func TestDispatch_backlogAndDisjointClasses(t *testing.T) {
	requester := newCaptureRequester()
	coordinator, _ := newTestCoordinator(t, requester)

	coordinator.SetError(`cooling`)
	coordinator.Submit(nil, nil, Retry, `cooling`)
	coordinator.Submit(nil, nil, None, `due`)

	coordinator.Dispatch()
	args := requester.take(t)

	assert.Empty(t, args.asap)
	assert.Equal(t, keySet(`due`), args.normal)
	assert.Equal(t, keySet(`cooling`), args.backlog)
	for k := range args.asap {
		assert.NotContains(t, args.normal, k)
		assert.NotContains(t, args.backlog, k)
	}
	for k := range args.normal {
		assert.NotContains(t, args.backlog, k)
	}
}

// a key due for one query but cooling for another resolves to the higher
// priority class
func TestDispatch_overlapResolvedByPriority(t *testing.T) {
	requester := newCaptureRequester()
	coordinator, clock := newTestCoordinator(t, requester)

	coordinator.SetError(`k`)
	clock.Advance(time.Second * 5) // past the 2s asap cool-off, within the 10s default

	coordinator.Submit(nil, nil, Asap, `k`) // dispatches immediately
	args := requester.take(t)
	assert.Equal(t, keySet(`k`), args.asap)
	assert.Empty(t, args.backlog)

	coordinator.Submit(nil, nil, Retry, `k`)
	coordinator.Dispatch()
	args = requester.take(t)
	assert.Equal(t, keySet(`k`), args.asap)
	assert.Empty(t, args.normal)
	assert.Empty(t, args.backlog, `asap must win over backlog`)
}

// pending keys are excluded from dispatch until a response arrives
func TestDispatch_pendingExcluded(t *testing.T) {
	requester := newCaptureRequester()
	coordinator, _ := newTestCoordinator(t, requester)

	coordinator.Submit(nil, nil, None, `a`)
	coordinator.Dispatch()
	requester.take(t)

	coordinator.MarkRequested(`a`)
	coordinator.Dispatch()
	requester.expectNone(t)

	// an error response resets pending, making the key eligible again
	// (after its cool-off)
	coordinator.SetError(`a`)
	coordinator.Dispatch()
	requester.expectNone(t) // under None the error resolves the query, which is removed
}

// no requester call when only backlog keys exist
func TestDispatch_backlogOnlySuppressed(t *testing.T) {
	requester := newCaptureRequester()
	coordinator, _ := newTestCoordinator(t, requester)

	coordinator.SetError(`a`)
	coordinator.Submit(nil, nil, Retry, `a`)
	coordinator.Dispatch()
	requester.expectNone(t)
}

// overlapping dispatch is dropped, with a warning
func TestDispatch_reentrancyDropped(t *testing.T) {
	var buf bytes.Buffer
	logger := stumpy.L.New(
		stumpy.WithStumpy(stumpy.WithWriter(&buf)),
		stumpy.L.WithLevel(logiface.LevelTrace),
	).Logger()

	var calls int
	var coordinator *Coordinator[string, int]
	requester := RequesterFunc[string, int](func(context.Context, *Coordinator[string, int], map[string]struct{}, map[string]struct{}, map[string]struct{}) {
		calls++
		coordinator.Dispatch() // overlapping, must be dropped
	})
	coordinator = New(&Config[string, int]{Interval: -1, Logger: logger}, requester)
	defer coordinator.Close()

	coordinator.Submit(nil, nil, None, `a`)
	coordinator.Dispatch()

	assert.Equal(t, 1, calls)
	assert.Contains(t, buf.String(), `dispatch dropped`)
}

// accepted keys are not re-requested
func TestDispatch_acceptedExcluded(t *testing.T) {
	requester := newCaptureRequester()
	coordinator, _ := newTestCoordinator(t, requester)
	listener := newChanListener()

	coordinator.SetValue(`a`, 1)
	coordinator.Submit(nil, listener, Partial, `a`, `b`)
	listener.take(t) // partial result for a

	coordinator.Dispatch()
	args := requester.take(t)
	assert.Equal(t, keySet(`b`), args.normal)
}
