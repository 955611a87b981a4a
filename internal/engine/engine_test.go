package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/asyncstore/internal/ir"
)

func TestEngine_SubmitAllocatesIncreasingIDs(t *testing.T) {
	e := New(WithLogger(quietLogger()))

	var prev ir.CorrelationID
	for i := 0; i < 5; i++ {
		id, err := e.Submit(ir.OpExists, func(ir.CorrelationID) error { return nil }, BoolFunc(nil))
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
	assert.Equal(t, 5, e.QueueLen())
}

func TestEngine_SubmitRequiresDispatchAndContinuation(t *testing.T) {
	e := New(WithLogger(quietLogger()))

	_, err := e.Submit(ir.OpRead, nil, TextFunc(func(string, error) {}))
	assert.Error(t, err)

	_, err = e.Submit(ir.OpRead, func(ir.CorrelationID) error { return nil }, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, e.QueueLen())
}

func TestEngine_DefaultNameIsUUID(t *testing.T) {
	e := New(WithLogger(quietLogger()))
	assert.Len(t, e.Name(), 36)

	named := New(WithName("primary"), WithLogger(quietLogger()))
	assert.Equal(t, "primary", named.Name())
}

type fixedNames string

func (f fixedNames) Generate() string { return string(f) }

func TestEngine_NameGenerator(t *testing.T) {
	e := New(WithNameGenerator(fixedNames("gen-1")), WithLogger(quietLogger()))
	assert.Equal(t, "gen-1", e.Name())

	explicit := New(WithNameGenerator(fixedNames("gen-1")), WithName("primary"), WithLogger(quietLogger()))
	assert.Equal(t, "primary", explicit.Name(), "an explicit name wins")
}

func TestEngine_ResolvesInSubmissionOrderDespiteOutOfOrderCompletions(t *testing.T) {
	e := startEngine(t)
	rec := &recorder{}
	dispatched := make(chan ir.CorrelationID, 3)

	ids := make([]ir.CorrelationID, 3)
	for i := range ids {
		id, err := e.Submit(ir.OpWrite, dispatchTo(rec, dispatched), BoolFunc(func(ok bool, err error) {
			rec.add("resolve")
		}))
		require.NoError(t, err)
		ids[i] = id
	}

	// Operation 1 is dispatched first.
	require.Equal(t, ids[0], <-dispatched)

	// Complete operation 2 before operation 1. It is stored, not consumed:
	// operation 2 cannot dispatch until operation 1 has resolved.
	require.NoError(t, e.Deliver(ir.Succeeded(ids[1], nil)))
	assert.Equal(t, 1, e.StoredCompletions())
	assert.Equal(t, int64(1), e.Dispatched())

	require.NoError(t, e.Deliver(ir.Succeeded(ids[0], nil)))
	require.Equal(t, ids[1], <-dispatched)
	require.Equal(t, ids[2], <-dispatched)
	require.NoError(t, e.Deliver(ir.Succeeded(ids[2], nil)))

	require.Eventually(t, func() bool { return rec.len() == 6 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{
		"dispatch " + itoa(ids[0]), "resolve",
		"dispatch " + itoa(ids[1]), "resolve",
		"dispatch " + itoa(ids[2]), "resolve",
	}, rec.snapshot())
	assert.Equal(t, 0, e.StoredCompletions())
}

func TestEngine_ContinuationsSeeOwnResults(t *testing.T) {
	e := startEngine(t)
	rec := &recorder{}

	// Backend that completes every call immediately, echoing its id.
	dispatch := func(id ir.CorrelationID) error {
		go func() { _ = e.Deliver(ir.Succeeded(id, ir.Text("value-"+itoa(id)))) }()
		return nil
	}

	for i := 0; i < 20; i++ {
		_, err := e.Submit(ir.OpRead, dispatch, TextFunc(func(text string, err error) {
			assert.NoError(t, err)
			rec.add(text)
		}))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return rec.len() == 20 }, 2*time.Second, time.Millisecond)
	got := rec.snapshot()
	for i, text := range got {
		assert.Equal(t, "value-"+itoa(ir.CorrelationID(i+1)), text)
	}
}

func TestEngine_SingleFlight(t *testing.T) {
	e := startEngine(t)

	var outstanding, maxOutstanding, resolved atomic.Int32
	dispatch := func(id ir.CorrelationID) error {
		n := outstanding.Add(1)
		for {
			m := maxOutstanding.Load()
			if n <= m || maxOutstanding.CompareAndSwap(m, n) {
				break
			}
		}
		go func() {
			time.Sleep(time.Duration(id%3) * time.Millisecond)
			_ = e.Deliver(ir.Succeeded(id, nil))
		}()
		return nil
	}

	const n = 50
	for i := 0; i < n; i++ {
		_, err := e.Submit(ir.OpWrite, dispatch, BoolFunc(func(bool, error) {
			outstanding.Add(-1)
			resolved.Add(1)
		}))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return resolved.Load() == n }, 5*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), maxOutstanding.Load())
	assert.Equal(t, ir.CorrelationID(0), e.InFlight())
	assert.Equal(t, int64(n), e.Resolved())
}

func TestEngine_DuplicateCompletionDoesNotRetrigger(t *testing.T) {
	e := startEngine(t)
	dispatched := make(chan ir.CorrelationID, 1)

	var calls atomic.Int32
	id, err := e.Submit(ir.OpDelete, dispatchTo(&recorder{}, dispatched), BoolFunc(func(bool, error) {
		calls.Add(1)
	}))
	require.NoError(t, err)
	<-dispatched

	require.NoError(t, e.Deliver(ir.Succeeded(id, nil)))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	// Simulated re-delivery after consumption.
	err = e.Deliver(ir.Succeeded(id, nil))
	assert.True(t, IsUnknownID(err))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, e.StoredCompletions())
}

func TestEngine_UnknownIDIsDiscarded(t *testing.T) {
	e := startEngine(t)

	err := e.OnCompletion(`{"id":999,"success":true}`)
	assert.True(t, IsUnknownID(err))
	assert.Equal(t, 0, e.StoredCompletions())
}

func TestEngine_BoolContinuationOnFailure(t *testing.T) {
	e := startEngine(t)
	dispatched := make(chan ir.CorrelationID, 1)
	result := make(chan error, 1)

	var got atomic.Bool
	got.Store(true)
	id, err := e.Submit(ir.OpWrite, dispatchTo(&recorder{}, dispatched), BoolFunc(func(ok bool, err error) {
		got.Store(ok)
		result <- err
	}))
	require.NoError(t, err)
	<-dispatched

	require.NoError(t, e.OnCompletion(ir.MustEncodeCompletion(ir.Failed(id, "quota exceeded"))))

	err = <-result
	assert.False(t, got.Load())
	require.True(t, IsBackendFailure(err))

	var re *RuntimeError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "quota exceeded", re.Message)
	assert.Equal(t, id, re.ID)
	assert.Equal(t, ir.OpWrite, re.Op)
}

func TestEngine_CompletionMayArriveDuringDispatch(t *testing.T) {
	e := startEngine(t)
	result := make(chan bool, 1)

	// A backend that completes synchronously, before dispatch returns.
	dispatch := func(id ir.CorrelationID) error {
		return e.Deliver(ir.Succeeded(id, nil))
	}
	_, err := e.Submit(ir.OpOpen, dispatch, BoolFunc(func(ok bool, err error) { result <- ok }))
	require.NoError(t, err)

	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("continuation not invoked")
	}
}

func TestEngine_StallContainment(t *testing.T) {
	e := startEngine(t)
	dispatched := make(chan ir.CorrelationID, 3)
	closedErrs := make(chan error, 3)

	var first ir.CorrelationID
	for i := 0; i < 3; i++ {
		id, err := e.Submit(ir.OpRead, dispatchTo(&recorder{}, dispatched), TextFunc(func(_ string, err error) {
			closedErrs <- err
		}))
		require.NoError(t, err)
		if i == 0 {
			first = id
		}
	}

	require.Equal(t, first, <-dispatched)

	// Nothing completes: the loop stays suspended on the first operation.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), e.Dispatched())
	assert.Equal(t, first, e.InFlight())
	assert.Equal(t, 2, e.QueueLen())
	assert.Empty(t, dispatched)

	// Teardown is the only way out; every operation learns the engine closed.
	e.Stop()
	for i := 0; i < 3; i++ {
		select {
		case err := <-closedErrs:
			assert.True(t, IsClosed(err), "got %v", err)
		case <-time.After(time.Second):
			t.Fatal("continuation not failed on stop")
		}
	}
}

func TestEngine_CompletionTimeout(t *testing.T) {
	e := startEngine(t, WithCompletionTimeout(20*time.Millisecond))
	dispatched := make(chan ir.CorrelationID, 2)
	errs := make(chan error, 2)

	first, err := e.Submit(ir.OpRead, dispatchTo(&recorder{}, dispatched), BinaryFunc(func(data []byte, err error) {
		assert.Nil(t, data)
		errs <- err
	}))
	require.NoError(t, err)
	second, err := e.Submit(ir.OpExists, dispatchTo(&recorder{}, dispatched), BoolFunc(func(ok bool, err error) {
		assert.True(t, ok)
		errs <- err
	}))
	require.NoError(t, err)

	require.Equal(t, first, <-dispatched)
	assert.True(t, IsTimeout(<-errs))

	require.Equal(t, second, <-dispatched)

	// The late completion for the abandoned id is discarded.
	assert.True(t, IsUnknownID(e.Deliver(ir.Succeeded(first, nil))))

	require.NoError(t, e.Deliver(ir.Succeeded(second, nil)))
	assert.NoError(t, <-errs)
}

func TestEngine_QueueFull(t *testing.T) {
	e := New(WithMaxPending(2), WithLogger(quietLogger()))
	noop := func(ir.CorrelationID) error { return nil }

	_, err := e.Submit(ir.OpWrite, noop, BoolFunc(nil))
	require.NoError(t, err)
	_, err = e.Submit(ir.OpWrite, noop, BoolFunc(nil))
	require.NoError(t, err)

	_, err = e.Submit(ir.OpWrite, noop, BoolFunc(nil))
	assert.True(t, IsQueueFull(err))
	assert.Equal(t, 2, e.QueueLen())
}

func TestEngine_DispatchErrorDoesNotStall(t *testing.T) {
	e := startEngine(t)
	dispatched := make(chan ir.CorrelationID, 1)
	errs := make(chan error, 2)

	_, err := e.Submit(ir.OpOpen, func(ir.CorrelationID) error {
		return errors.New("backend offline")
	}, BoolFunc(func(ok bool, err error) {
		assert.False(t, ok)
		errs <- err
	}))
	require.NoError(t, err)

	id, err := e.Submit(ir.OpOpen, dispatchTo(&recorder{}, dispatched), BoolFunc(func(ok bool, err error) {
		errs <- err
	}))
	require.NoError(t, err)

	err = <-errs
	assert.True(t, hasCode(err, ErrCodeDispatchFailed))
	assert.ErrorContains(t, err, "backend offline")

	require.Equal(t, id, <-dispatched)
	require.NoError(t, e.Deliver(ir.Succeeded(id, nil)))
	assert.NoError(t, <-errs)
}

func TestEngine_PanickingDispatchIsContained(t *testing.T) {
	e := startEngine(t)
	dispatched := make(chan ir.CorrelationID, 1)
	errs := make(chan error, 2)

	_, err := e.Submit(ir.OpWrite, func(ir.CorrelationID) error {
		panic("backend bug")
	}, BoolFunc(func(ok bool, err error) {
		assert.False(t, ok)
		errs <- err
	}))
	require.NoError(t, err)

	id, err := e.Submit(ir.OpWrite, dispatchTo(&recorder{}, dispatched), BoolFunc(func(ok bool, err error) {
		errs <- err
	}))
	require.NoError(t, err)

	err = <-errs
	assert.True(t, hasCode(err, ErrCodeDispatchFailed))
	assert.ErrorContains(t, err, "backend bug")

	require.Equal(t, id, <-dispatched)
	require.NoError(t, e.Deliver(ir.Succeeded(id, nil)))
	assert.NoError(t, <-errs)
}

func TestEngine_MalformedCompletionKeepsLoopAlive(t *testing.T) {
	e := startEngine(t)
	dispatched := make(chan ir.CorrelationID, 1)
	result := make(chan string, 1)

	id, err := e.Submit(ir.OpRead, dispatchTo(&recorder{}, dispatched), TextFunc(func(text string, err error) {
		result <- text
	}))
	require.NoError(t, err)
	<-dispatched

	assert.True(t, IsDecodeFailure(e.OnCompletion(`{"success":true`)))
	require.NoError(t, e.OnCompletion(ir.MustEncodeCompletion(ir.Succeeded(id, ir.Text("v")))))
	assert.Equal(t, "v", <-result)
}

func TestEngine_PanickingContinuationIsContained(t *testing.T) {
	e := startEngine(t)
	result := make(chan bool, 1)
	complete := func(id ir.CorrelationID) error {
		go func() { _ = e.Deliver(ir.Succeeded(id, nil)) }()
		return nil
	}

	_, err := e.Submit(ir.OpWrite, complete, BoolFunc(func(bool, error) { panic("caller bug") }))
	require.NoError(t, err)
	_, err = e.Submit(ir.OpWrite, complete, BoolFunc(func(ok bool, _ error) { result <- ok }))
	require.NoError(t, err)

	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("loop did not survive panicking continuation")
	}
}

func TestEngine_SubmitAfterStop(t *testing.T) {
	e := New(WithLogger(quietLogger()))
	e.Stop()
	e.Stop() // idempotent

	_, err := e.Submit(ir.OpExists, func(ir.CorrelationID) error { return nil }, BoolFunc(nil))
	assert.True(t, IsClosed(err))
}

func TestEngine_RunReturnsContextError(t *testing.T) {
	e := New(WithLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
