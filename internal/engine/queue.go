package engine

import (
	"sync"

	"github.com/roach88/asyncstore/internal/ir"
)

// PendingCall pairs a correlation id with the action that dispatches it and
// the continuation that receives its result.
//
// A PendingCall is created when an operation is submitted and consumed
// exactly once by the Run loop.
type PendingCall struct {
	ID ir.CorrelationID
	Op ir.Op

	// Dispatch triggers the backend call. It is expected to return
	// immediately; the result arrives later through the completion channel.
	Dispatch func() error

	Continuation Continuation
}

// callQueue is a thread-safe FIFO queue of pending calls.
//
// Enqueue may be called from any goroutine while the Engine's Run loop
// dequeues. A capacity of 0 means unbounded.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type callQueue struct {
	mu       sync.Mutex
	calls    []PendingCall
	capacity int
	closed   bool
	signal   chan struct{} // Signals call availability (buffered, size 1)
}

// newCallQueue creates an empty queue. capacity <= 0 means unbounded.
func newCallQueue(capacity int) *callQueue {
	if capacity < 0 {
		capacity = 0
	}
	return &callQueue{
		calls:    make([]PendingCall, 0, 64),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue appends a call to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns ErrClosed after Close and a queue-full error at capacity.
func (q *callQueue) Enqueue(c PendingCall) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.capacity > 0 && len(q.calls) >= q.capacity {
		return NewQueueFullError(q.capacity)
	}

	q.calls = append(q.calls, c)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return nil
}

// TryDequeue removes and returns the front call without blocking.
// Returns (PendingCall{}, false) if the queue is empty.
func (q *callQueue) TryDequeue() (PendingCall, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.calls) == 0 {
		return PendingCall{}, false
	}

	c := q.calls[0]

	// Drop the slot's closures so the backing array does not retain them.
	q.calls[0] = PendingCall{}

	if len(q.calls) == 1 {
		q.calls = q.calls[:0]
	} else {
		q.calls = q.calls[1:]
	}

	return c, true
}

// Wait returns a channel that signals when calls may be available.
// The channel is closed by Close.
func (q *callQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of calls awaiting dispatch.
func (q *callQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

// Drain removes and returns every queued call. Used at shutdown so
// continuations of never-dispatched calls can be told the engine closed.
func (q *callQueue) Drain() []PendingCall {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]PendingCall, len(q.calls))
	copy(out, q.calls)
	q.calls = q.calls[:0]
	return out
}

// Close stops the queue from accepting calls and wakes any waiter.
func (q *callQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
