// Package client exposes the high-level store operations on top of the
// engine's dispatch loop.
//
// Each operation comes in two forms. The asynchronous form (OpenAsync,
// ReadAsync, ...) queues the call and returns at once; its callback runs on
// the engine goroutine once every earlier operation has resolved. The
// blocking form (Open, Read, ...) queues the same call and waits for it.
//
// Binary values are base64-encoded on the way into the backend and decoded
// before they reach the caller, so the backend only ever sees text.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/roach88/asyncstore/internal/engine"
	"github.com/roach88/asyncstore/internal/ir"
)

// DefaultVersion is the store version requested by Open when the caller has
// no schema versioning of its own.
const DefaultVersion = 1

// Backend is the asynchronous storage collaborator.
//
// Every operation method must return without waiting for the result and
// report it later, exactly once, through the handler passed to Subscribe,
// as an encoded ir.Completion carrying the same correlation id. A non-nil
// return means the call was not accepted and no completion will follow.
type Backend interface {
	OpenStore(name string, version int, id ir.CorrelationID) error
	Write(key, value string, id ir.CorrelationID) error
	Read(key string, id ir.CorrelationID) error
	Delete(key string, id ir.CorrelationID) error
	Exists(key string, id ir.CorrelationID) error

	// ForceFlush synchronously persists any buffered writes.
	ForceFlush() error

	// Subscribe attaches the completion channel.
	Subscribe(handler func(raw string))
}

// Client owns one engine and the goroutine running its dispatch loop.
type Client struct {
	backend Backend
	engine  *engine.Engine

	cancel context.CancelFunc
	done   chan struct{}
	runErr error

	closeOnce sync.Once
}

// New subscribes to backend and starts the dispatch loop.
// The Client does not own backend; Close leaves it open.
func New(backend Backend, opts ...engine.Option) *Client {
	e := engine.New(opts...)
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		backend: backend,
		engine:  e,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	// OnCompletion logs what it rejects.
	backend.Subscribe(func(raw string) { _ = e.OnCompletion(raw) })

	go func() {
		defer close(c.done)
		c.runErr = e.Run(ctx)
	}()
	return c
}

// Close stops the dispatch loop and waits for it to exit. Operations still
// queued resolve with an engine.ErrCodeClosed error. Safe to call more than
// once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.engine.Stop()
		<-c.done
		c.cancel()
	})
	return c.runErr
}

// Engine returns the underlying engine, for introspection.
func (c *Client) Engine() *engine.Engine {
	return c.engine
}

// Flush asks the backend to persist buffered writes. It does not go through
// the queue and does not wait for queued operations.
func (c *Client) Flush() error {
	return c.backend.ForceFlush()
}

// OpenAsync queues opening (or creating) the named store at version.
func (c *Client) OpenAsync(name string, version int, done func(ok bool, err error)) (ir.CorrelationID, error) {
	return c.engine.Submit(ir.OpOpen, func(id ir.CorrelationID) error {
		return c.backend.OpenStore(name, version, id)
	}, engine.BoolFunc(done))
}

// WriteAsync queues writing a text value. Text must be valid UTF-8; use
// WriteBytesAsync for arbitrary bytes.
func (c *Client) WriteAsync(key, value string, done func(ok bool, err error)) (ir.CorrelationID, error) {
	if !utf8.ValidString(value) {
		return 0, fmt.Errorf("write %q: %w", key, ir.ErrInvalidText)
	}
	return c.engine.Submit(ir.OpWrite, func(id ir.CorrelationID) error {
		return c.backend.Write(key, value, id)
	}, engine.BoolFunc(done))
}

// WriteBytesAsync queues writing a binary value.
func (c *Client) WriteBytesAsync(key string, value []byte, done func(ok bool, err error)) (ir.CorrelationID, error) {
	return c.WriteAsync(key, ir.EncodeBinary(value), done)
}

// ReadAsync queues reading a text value. A missing key yields "" and a
// backend failure error.
func (c *Client) ReadAsync(key string, done func(value string, err error)) (ir.CorrelationID, error) {
	return c.engine.Submit(ir.OpRead, func(id ir.CorrelationID) error {
		return c.backend.Read(key, id)
	}, engine.TextFunc(done))
}

// ReadBytesAsync queues reading a binary value written with WriteBytes.
func (c *Client) ReadBytesAsync(key string, done func(value []byte, err error)) (ir.CorrelationID, error) {
	return c.engine.Submit(ir.OpRead, func(id ir.CorrelationID) error {
		return c.backend.Read(key, id)
	}, engine.BinaryFunc(done))
}

// DeleteAsync queues removing a key.
func (c *Client) DeleteAsync(key string, done func(ok bool, err error)) (ir.CorrelationID, error) {
	return c.engine.Submit(ir.OpDelete, func(id ir.CorrelationID) error {
		return c.backend.Delete(key, id)
	}, engine.BoolFunc(done))
}

// ExistsAsync queues a presence check. Absence is false with a nil error.
func (c *Client) ExistsAsync(key string, done func(found bool, err error)) (ir.CorrelationID, error) {
	return c.engine.Submit(ir.OpExists, func(id ir.CorrelationID) error {
		return c.backend.Exists(key, id)
	}, engine.BoolFunc(done))
}

// Open opens (or creates) the named store at version and waits for the result.
func (c *Client) Open(ctx context.Context, name string, version int) (bool, error) {
	return wait(ctx, func(done func(bool, error)) (ir.CorrelationID, error) {
		return c.OpenAsync(name, version, done)
	})
}

// Write writes a text value and waits for the result.
func (c *Client) Write(ctx context.Context, key, value string) (bool, error) {
	return wait(ctx, func(done func(bool, error)) (ir.CorrelationID, error) {
		return c.WriteAsync(key, value, done)
	})
}

// WriteBytes writes a binary value and waits for the result.
func (c *Client) WriteBytes(ctx context.Context, key string, value []byte) (bool, error) {
	return wait(ctx, func(done func(bool, error)) (ir.CorrelationID, error) {
		return c.WriteBytesAsync(key, value, done)
	})
}

// Read reads a text value and waits for the result.
func (c *Client) Read(ctx context.Context, key string) (string, error) {
	return wait(ctx, func(done func(string, error)) (ir.CorrelationID, error) {
		return c.ReadAsync(key, done)
	})
}

// ReadBytes reads a binary value and waits for the result.
func (c *Client) ReadBytes(ctx context.Context, key string) ([]byte, error) {
	return wait(ctx, func(done func([]byte, error)) (ir.CorrelationID, error) {
		return c.ReadBytesAsync(key, done)
	})
}

// Delete removes a key and waits for the result.
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	return wait(ctx, func(done func(bool, error)) (ir.CorrelationID, error) {
		return c.DeleteAsync(key, done)
	})
}

// Exists checks for a key and waits for the result.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	return wait(ctx, func(done func(bool, error)) (ir.CorrelationID, error) {
		return c.ExistsAsync(key, done)
	})
}

type result[T any] struct {
	value T
	err   error
}

// wait submits through submit and blocks for the continuation.
//
// Giving up on ctx does not cancel the queued operation; its result is
// dropped into the buffered channel and discarded.
func wait[T any](ctx context.Context, submit func(done func(T, error)) (ir.CorrelationID, error)) (T, error) {
	ch := make(chan result[T], 1)
	var zero T

	_, err := submit(func(v T, err error) {
		ch <- result[T]{value: v, err: err}
	})
	if err != nil {
		return zero, err
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// IsNotFound reports whether err is a backend failure caused by a missing key.
func IsNotFound(err error) bool {
	var re *engine.RuntimeError
	return errors.As(err, &re) && re.Code == engine.ErrCodeBackendFailure && re.Message == ir.ErrTextNotFound
}
