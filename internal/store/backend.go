package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/asyncstore/internal/ir"
)

// jobBuffer is the worker's queue depth. The engine dispatches one call at a
// time, so this only matters for callers driving the backend directly.
const jobBuffer = 16

type job struct {
	id  ir.CorrelationID
	op  ir.Op
	run func(ctx context.Context) ir.Completion
}

// Backend exposes a Store through fire-and-forget, correlation-tagged entry
// points. Every entry point returns immediately; the result is reported later
// by calling the subscribed handler with an encoded ir.Completion.
//
// Thread-safety: entry points are safe from any goroutine. Jobs run on a
// single worker goroutine, in the order they were accepted.
type Backend struct {
	st  *Store
	log *slog.Logger

	mu     sync.Mutex // guards closed and sends on jobs
	closed bool
	jobs   chan job

	hmu     sync.RWMutex
	handler func(raw string)

	// current is the open store name. Only the worker goroutine touches it.
	current string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithBackendLogger sets the backend's logger. Default: slog.Default().
func WithBackendLogger(l *slog.Logger) BackendOption {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBackend starts a worker serving st. Call Close to stop it.
// The Backend does not own st; closing the Backend leaves st open.
func NewBackend(st *Store, opts ...BackendOption) *Backend {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Backend{
		st:     st,
		log:    slog.Default(),
		jobs:   make(chan job, jobBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.work()
	return b
}

// Subscribe sets the completion handler. Completions produced while no
// handler is set are logged and dropped.
func (b *Backend) Subscribe(handler func(raw string)) {
	b.hmu.Lock()
	defer b.hmu.Unlock()
	b.handler = handler
}

// OpenStore opens (or creates) a named store; later entry operations use it.
func (b *Backend) OpenStore(name string, version int, id ir.CorrelationID) error {
	name = ir.NormalizeKey(name)
	return b.submit(id, ir.OpOpen, func(ctx context.Context) ir.Completion {
		created, err := b.st.OpenStore(ctx, name, version)
		if err != nil {
			return ir.Failed(id, err.Error())
		}
		b.current = name
		b.log.Debug("store opened", "store", name, "version", version, "created", created)
		return ir.Succeeded(id, nil)
	})
}

// Write stores value under key in the open store.
func (b *Backend) Write(key, value string, id ir.CorrelationID) error {
	key = ir.NormalizeKey(key)
	return b.submit(id, ir.OpWrite, func(ctx context.Context) ir.Completion {
		if b.current == "" {
			return ir.Failed(id, ErrNoStore.Error())
		}
		if err := b.st.Put(ctx, b.current, key, value); err != nil {
			return ir.Failed(id, err.Error())
		}
		return ir.Succeeded(id, nil)
	})
}

// Read reports the value under key as the completion message.
// A missing key completes with success=false and "key not found".
func (b *Backend) Read(key string, id ir.CorrelationID) error {
	key = ir.NormalizeKey(key)
	return b.submit(id, ir.OpRead, func(ctx context.Context) ir.Completion {
		if b.current == "" {
			return ir.Failed(id, ErrNoStore.Error())
		}
		value, err := b.st.Get(ctx, b.current, key)
		if err != nil {
			return ir.Failed(id, err.Error())
		}
		return ir.Succeeded(id, &value)
	})
}

// Delete removes key from the open store. Deleting a missing key succeeds.
func (b *Backend) Delete(key string, id ir.CorrelationID) error {
	key = ir.NormalizeKey(key)
	return b.submit(id, ir.OpDelete, func(ctx context.Context) ir.Completion {
		if b.current == "" {
			return ir.Failed(id, ErrNoStore.Error())
		}
		if _, err := b.st.Delete(ctx, b.current, key); err != nil {
			return ir.Failed(id, err.Error())
		}
		return ir.Succeeded(id, nil)
	})
}

// Exists reports presence as the completion's success flag. Absence is
// success=false without an error description.
func (b *Backend) Exists(key string, id ir.CorrelationID) error {
	key = ir.NormalizeKey(key)
	return b.submit(id, ir.OpExists, func(ctx context.Context) ir.Completion {
		if b.current == "" {
			return ir.Failed(id, ErrNoStore.Error())
		}
		found, err := b.st.Has(ctx, b.current, key)
		if err != nil {
			return ir.Failed(id, err.Error())
		}
		if !found {
			return ir.Failed(id, "")
		}
		return ir.Succeeded(id, nil)
	})
}

// ForceFlush synchronously checkpoints the write-ahead log.
func (b *Backend) ForceFlush() error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBackendClosed
	}
	return b.st.Checkpoint(b.ctx)
}

// Close stops accepting calls, finishes queued jobs, and waits for the worker.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.jobs)
	b.mu.Unlock()

	<-b.done
	b.cancel()
	return nil
}

func (b *Backend) submit(id ir.CorrelationID, op ir.Op, run func(ctx context.Context) ir.Completion) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendClosed
	}
	b.jobs <- job{id: id, op: op, run: run}
	return nil
}

// work runs jobs in order and reports each result.
func (b *Backend) work() {
	defer close(b.done)
	for j := range b.jobs {
		b.report(j, j.run(b.ctx))
	}
}

func (b *Backend) report(j job, c ir.Completion) {
	raw, err := ir.EncodeCompletion(c)
	if err != nil {
		// The caller still needs an answer for this id.
		b.log.Error("encode completion failed", "id", j.id, "op", j.op, "error", err)
		raw = ir.MustEncodeCompletion(ir.Failed(j.id, err.Error()))
	}

	b.hmu.RLock()
	handler := b.handler
	b.hmu.RUnlock()

	if handler == nil {
		b.log.Warn("no completion handler, dropping result", "id", j.id, "op", j.op)
		return
	}

	b.log.Debug("completion sent", "id", j.id, "op", j.op, "success", c.Success)
	handler(raw)
}
