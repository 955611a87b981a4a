package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/asyncstore/internal/ir"
)

// Engine serializes calls into an asynchronous backend.
//
// Operations are submitted with Submit and dispatched one at a time by the
// Run loop: dispatch, wait for the matching completion, invoke the
// continuation, next. Calls therefore reach the backend, and results reach
// callers, in submission order whatever order the backend completes in.
//
// Thread-safety model:
//   - Submit(), OnCompletion(), Deliver(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Continuations run on the Run goroutine; they must not block on
//     results of operations submitted to the same engine
type Engine struct {
	name    string
	names   NameGenerator
	log     *slog.Logger
	alloc   *Allocator
	queue   *callQueue
	table   *completionTable
	timeout time.Duration

	// submitMu keeps id order equal to queue order across concurrent submitters.
	submitMu sync.Mutex

	inFlight   atomic.Int64
	dispatched atomic.Int64
	resolved   atomic.Int64

	stopOnce sync.Once
	stopped  chan struct{}
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithName sets the engine name used in logs. Default: a UUIDv7.
func WithName(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.name = name
		}
	}
}

// WithNameGenerator sets the generator used when no name is given.
// Default: UUIDv7Generator.
func WithNameGenerator(g NameGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.names = g
		}
	}
}

// WithMaxPending bounds the number of submitted but not yet dispatched
// operations. Submit fails with ErrCodeQueueFull beyond the bound.
//
// Default: 0 (unbounded).
func WithMaxPending(n int) Option {
	return func(e *Engine) {
		e.queue = newCallQueue(n)
	}
}

// WithCompletionTimeout bounds the wait for each completion. When it fires,
// the continuation receives an ErrCodeTimeout error and the loop moves on; a
// completion arriving later for that id is discarded.
//
// Default: 0, wait forever. A backend that never completes then stalls every
// operation queued behind it.
func WithCompletionTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithAllocator sets the correlation id allocator.
// Used to resume numbering after a restart.
func WithAllocator(a *Allocator) Option {
	return func(e *Engine) {
		if a != nil {
			e.alloc = a
		}
	}
}

// New creates an Engine. Call Run to start dispatching.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:     slog.Default(),
		names:   UUIDv7Generator{},
		alloc:   NewAllocator(),
		queue:   newCallQueue(0),
		table:   newCompletionTable(),
		stopped: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.name == "" {
		e.name = e.names.Generate()
	}
	e.log = e.log.With("engine", e.name)

	return e
}

// Submit queues an operation.
//
// dispatch is called from the Run loop with the operation's correlation id
// once every earlier operation has been resolved. It must trigger the
// backend call and return without waiting for the result.
//
// Returns the allocated id, or an error if the engine is closed or the
// queue is full. A rejected operation never reaches its continuation.
func (e *Engine) Submit(op ir.Op, dispatch func(id ir.CorrelationID) error, cont Continuation) (ir.CorrelationID, error) {
	if dispatch == nil {
		return 0, fmt.Errorf("submit %s: dispatch action is required", op)
	}
	if cont == nil {
		return 0, fmt.Errorf("submit %s: continuation is required", op)
	}

	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	id := e.alloc.Next()
	e.table.register(id)

	err := e.queue.Enqueue(PendingCall{
		ID:           id,
		Op:           op,
		Dispatch:     func() error { return dispatch(id) },
		Continuation: cont,
	})
	if err != nil {
		e.table.forget(id)
		return 0, err
	}

	e.log.Debug("operation queued", "id", id, "op", op)
	return id, nil
}

// OnCompletion is the callback adapter: it decodes a raw completion record
// and stores it for the waiting Run loop.
//
// Safe from any goroutine. Malformed records and records for ids with no
// live pending call are logged and discarded; the returned error says which.
func (e *Engine) OnCompletion(raw string) error {
	c, err := ir.DecodeCompletion(raw)
	if err != nil {
		e.log.Error("discarding malformed completion", "error", err, "raw", raw)
		return &RuntimeError{
			Code:    ErrCodeDecodeFailed,
			Message: "malformed completion record",
			Err:     err,
		}
	}
	return e.Deliver(c)
}

// Deliver stores an already decoded completion.
func (e *Engine) Deliver(c ir.Completion) error {
	if !e.table.put(c) {
		e.log.Warn("discarding completion for unknown id",
			"id", c.ID,
			"success", c.Success,
			"error", c.ErrorText(),
		)
		return &RuntimeError{
			Code:    ErrCodeUnknownID,
			Message: "no pending operation for completion",
			ID:      c.ID,
		}
	}

	e.log.Debug("completion received",
		"id", c.ID,
		"success", c.Success,
		"message_len", len(c.MessageText()),
		"error", c.ErrorText(),
	)
	return nil
}

// Run starts the dispatch loop.
// Blocks until the context is cancelled or Stop is called.
//
// CRITICAL: Must be called from exactly ONE goroutine. At most one
// operation is dispatched and unresolved at any time.
//
// On return, operations still queued (and the in-flight one, if the wait was
// interrupted) are resolved with an ErrCodeClosed error.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine starting")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.stopped:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer e.shutdown()

	for {
		select {
		case <-e.stopped:
			return e.exitErr(nil)
		case <-ctx.Done():
			return e.exitErr(ctx.Err())
		default:
		}

		call, ok := e.queue.TryDequeue()
		if ok {
			if err := e.process(ctx, call); err != nil {
				return e.exitErr(err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return e.exitErr(ctx.Err())

		case _, open := <-e.queue.Wait():
			if !open {
				return e.exitErr(nil)
			}
		}
	}
}

// exitErr maps an interruption to Run's return value: nil after Stop,
// the context error otherwise.
func (e *Engine) exitErr(err error) error {
	select {
	case <-e.stopped:
		e.log.Info("engine stopping: stopped")
		return nil
	default:
	}
	e.log.Info("engine stopping: context cancelled")
	return err
}

// process runs one cycle: dispatch, await, resolve.
// Returns a non-nil error only when the wait was interrupted.
func (e *Engine) process(ctx context.Context, call PendingCall) error {
	e.inFlight.Store(int64(call.ID))
	defer e.inFlight.Store(0)

	e.dispatched.Add(1)
	e.log.Debug("dispatching", "id", call.ID, "op", call.Op)

	if err := dispatchSafely(call); err != nil {
		e.table.forget(call.ID)
		e.log.Error("dispatch failed", "id", call.ID, "op", call.Op, "error", err)
		e.fail(call, &RuntimeError{
			Code:    ErrCodeDispatchFailed,
			Message: "backend rejected the call",
			ID:      call.ID,
			Op:      call.Op,
			Err:     err,
		})
		return nil
	}

	c, ok, err := e.table.await(ctx, call.ID, e.timeout)
	if err != nil {
		e.table.forget(call.ID)
		e.fail(call, &RuntimeError{Code: ErrCodeClosed, Message: "engine stopped while awaiting completion", ID: call.ID, Op: call.Op, Err: err})
		return err
	}
	if !ok {
		e.table.forget(call.ID)
		e.log.Warn("completion timed out", "id", call.ID, "op", call.Op, "timeout", e.timeout)
		e.fail(call, NewTimeoutError(call.ID, call.Op))
		return nil
	}

	e.invoke(call, func() { call.Continuation.resolve(call.ID, call.Op, c) })
	e.resolved.Add(1)
	return nil
}

// dispatchSafely runs the dispatch action, turning a panic into an error.
func dispatchSafely(call PendingCall) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
	}()
	return call.Dispatch()
}

func (e *Engine) fail(call PendingCall, err error) {
	e.invoke(call, func() { call.Continuation.fail(err) })
}

// invoke runs a continuation, containing panics so one faulty caller
// cannot stop the loop for everyone queued behind it.
func (e *Engine) invoke(call PendingCall, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("continuation panicked", "id", call.ID, "op", call.Op, "panic", r)
		}
	}()
	fn()
}

// shutdown closes the queue and fails every operation that never dispatched.
func (e *Engine) shutdown() {
	e.queue.Close()
	for _, call := range e.queue.Drain() {
		e.table.forget(call.ID)
		e.fail(call, ErrClosed)
	}
}

// Stop gracefully shuts down the engine.
// Run returns after the in-flight wait is interrupted; queued operations
// are resolved with ErrClosed. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopped)
		e.queue.Close()
	})
}

// Name returns the engine's name.
func (e *Engine) Name() string {
	return e.name
}

// QueueLen returns the number of operations awaiting dispatch.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// InFlight returns the id of the dispatched, unresolved operation, or 0.
func (e *Engine) InFlight() ir.CorrelationID {
	return ir.CorrelationID(e.inFlight.Load())
}

// Dispatched returns how many dispatch actions have run.
func (e *Engine) Dispatched() int64 {
	return e.dispatched.Load()
}

// Resolved returns how many operations were resolved with a completion.
func (e *Engine) Resolved() int64 {
	return e.resolved.Load()
}

// StoredCompletions returns the number of completions received but not yet
// consumed by the Run loop.
func (e *Engine) StoredCompletions() int {
	return e.table.Len()
}

// Allocator returns the engine's correlation id allocator.
func (e *Engine) Allocator() *Allocator {
	return e.alloc
}
