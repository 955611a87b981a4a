package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/roach88/asyncstore/internal/ir"
)

// Call is one operation as the backend received it.
type Call struct {
	ID      ir.CorrelationID
	Op      ir.Op
	Name    string
	Version int
	Key     string
	Value   string
}

// FakeBackend is a scriptable in-memory backend.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeBackend struct {
	mu      sync.Mutex
	handler func(raw string)
	calls   []Call
	changed chan struct{}

	auto   bool
	inline bool
	reject error

	flushes  int
	flushErr error

	current string
	stores  map[string]int
	data    map[string]map[string]string
}

// FakeOption configures a FakeBackend.
type FakeOption func(*FakeBackend)

// WithAutoComplete completes every call from the in-memory store.
func WithAutoComplete() FakeOption {
	return func(f *FakeBackend) {
		f.auto = true
	}
}

// WithInlineCompletion reports auto completions before the dispatch call
// returns instead of from a separate goroutine. Implies WithAutoComplete.
func WithInlineCompletion() FakeOption {
	return func(f *FakeBackend) {
		f.auto = true
		f.inline = true
	}
}

// NewFakeBackend creates a fake in manual mode unless options say otherwise.
func NewFakeBackend(opts ...FakeOption) *FakeBackend {
	f := &FakeBackend{
		changed: make(chan struct{}),
		stores:  make(map[string]int),
		data:    make(map[string]map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Subscribe implements client.Backend.
func (f *FakeBackend) Subscribe(handler func(raw string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

// OpenStore implements client.Backend.
func (f *FakeBackend) OpenStore(name string, version int, id ir.CorrelationID) error {
	return f.accept(Call{ID: id, Op: ir.OpOpen, Name: ir.NormalizeKey(name), Version: version})
}

// Write implements client.Backend.
func (f *FakeBackend) Write(key, value string, id ir.CorrelationID) error {
	return f.accept(Call{ID: id, Op: ir.OpWrite, Key: ir.NormalizeKey(key), Value: value})
}

// Read implements client.Backend.
func (f *FakeBackend) Read(key string, id ir.CorrelationID) error {
	return f.accept(Call{ID: id, Op: ir.OpRead, Key: ir.NormalizeKey(key)})
}

// Delete implements client.Backend.
func (f *FakeBackend) Delete(key string, id ir.CorrelationID) error {
	return f.accept(Call{ID: id, Op: ir.OpDelete, Key: ir.NormalizeKey(key)})
}

// Exists implements client.Backend.
func (f *FakeBackend) Exists(key string, id ir.CorrelationID) error {
	return f.accept(Call{ID: id, Op: ir.OpExists, Key: ir.NormalizeKey(key)})
}

// ForceFlush implements client.Backend. It counts calls.
func (f *FakeBackend) ForceFlush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return f.flushErr
}

// RejectNext makes the next operation call return err without being
// recorded or completed.
func (f *FakeBackend) RejectNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reject = err
}

// SetFlushError sets the error ForceFlush returns.
func (f *FakeBackend) SetFlushError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushErr = err
}

// Flushes returns how many times ForceFlush was called.
func (f *FakeBackend) Flushes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

// Calls returns a copy of the recorded calls in dispatch order.
func (f *FakeBackend) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// WaitForCalls blocks until at least n calls were recorded or timeout
// elapses. Reports whether n was reached.
func (f *FakeBackend) WaitForCalls(n int, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		f.mu.Lock()
		if len(f.calls) >= n {
			f.mu.Unlock()
			return true
		}
		ch := f.changed
		f.mu.Unlock()

		select {
		case <-ch:
		case <-timer.C:
			return false
		}
	}
}

// Complete reports c through the subscribed handler, on the caller's
// goroutine. It may be called for any id, dispatched or not.
func (f *FakeBackend) Complete(c ir.Completion) {
	f.CompleteRaw(ir.MustEncodeCompletion(c))
}

// CompleteRaw reports an arbitrary record, well-formed or not.
func (f *FakeBackend) CompleteRaw(raw string) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()

	if handler != nil {
		handler(raw)
	}
}

// Value returns the in-memory value of key in store name (auto mode).
func (f *FakeBackend) Value(name, key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[ir.NormalizeKey(name)][ir.NormalizeKey(key)]
	return v, ok
}

func (f *FakeBackend) accept(call Call) error {
	f.mu.Lock()
	if err := f.reject; err != nil {
		f.reject = nil
		f.mu.Unlock()
		return err
	}

	f.calls = append(f.calls, call)
	close(f.changed)
	f.changed = make(chan struct{})

	if !f.auto {
		f.mu.Unlock()
		return nil
	}
	c := f.apply(call)
	inline := f.inline
	f.mu.Unlock()

	if inline {
		f.Complete(c)
	} else {
		go f.Complete(c)
	}
	return nil
}

// apply runs call against the in-memory store. Caller holds f.mu.
func (f *FakeBackend) apply(call Call) ir.Completion {
	if call.Op == ir.OpOpen {
		if v, ok := f.stores[call.Name]; ok && call.Version < v {
			return ir.Failed(call.ID, fmt.Sprintf("version downgrade: store %q is at %d", call.Name, v))
		}
		f.stores[call.Name] = call.Version
		if f.data[call.Name] == nil {
			f.data[call.Name] = make(map[string]string)
		}
		f.current = call.Name
		return ir.Succeeded(call.ID, nil)
	}

	if f.current == "" {
		return ir.Failed(call.ID, ir.ErrTextNoStore)
	}
	entries := f.data[f.current]

	switch call.Op {
	case ir.OpWrite:
		entries[call.Key] = call.Value
		return ir.Succeeded(call.ID, nil)
	case ir.OpRead:
		v, ok := entries[call.Key]
		if !ok {
			return ir.Failed(call.ID, ir.ErrTextNotFound)
		}
		return ir.Succeeded(call.ID, &v)
	case ir.OpDelete:
		delete(entries, call.Key)
		return ir.Succeeded(call.ID, nil)
	case ir.OpExists:
		if _, ok := entries[call.Key]; !ok {
			return ir.Failed(call.ID, "")
		}
		return ir.Succeeded(call.ID, nil)
	default:
		return ir.Failed(call.ID, fmt.Sprintf("unsupported op %s", call.Op))
	}
}
