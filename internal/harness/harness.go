package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/asyncstore/internal/client"
	"github.com/roach88/asyncstore/internal/engine"
	"github.com/roach88/asyncstore/internal/ir"
	"github.com/roach88/asyncstore/internal/testutil"
)

// outcome is what one step's continuation observed.
type outcome struct {
	ok    *bool
	value *string
	err   error
}

// Harness is the state of one scenario execution.
//
// Trace events are appended only from the engine goroutine; the harness
// reads them after every continuation ran or the client was closed.
type Harness struct {
	scenario *Scenario
	client   *client.Client
	result   *Result
	outcomes []outcome
	done     chan int
}

// Run executes a scenario against backend and returns the result.
//
// Steps are submitted asynchronously in order. For scripted scenarios
// backend must be a manual *testutil.FakeBackend, and the harness delivers
// each step's reply in the scenario's delivery order. Run returns an error
// if a step could not be submitted or ctx ends before every continuation ran.
//
// Engine options are applied after the harness defaults (a fixed engine name
// and a discarding logger).
func Run(ctx context.Context, s *Scenario, backend client.Backend, opts ...engine.Option) (*Result, error) {
	var fake *testutil.FakeBackend
	if s.Scripted() {
		f, ok := backend.(*testutil.FakeBackend)
		if !ok {
			return nil, fmt.Errorf("scenario %q scripts replies: backend must be a *testutil.FakeBackend, got %T", s.Name, backend)
		}
		fake = f
	}

	h := &Harness{
		scenario: s,
		result:   NewResult(),
		outcomes: make([]outcome, len(s.Steps)),
		done:     make(chan int, len(s.Steps)),
	}

	defaults := []engine.Option{
		engine.WithName("harness-" + s.Name),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	h.client = client.New(&tracingBackend{Backend: backend, h: h}, append(defaults, opts...)...)

	ids, err := h.submitAll()
	if err != nil {
		h.client.Close()
		return nil, err
	}

	if fake != nil {
		for _, i := range s.deliveryOrder() {
			fake.Complete(s.Steps[i].Reply.completion(ids[i]))
		}
	}

	waitErr := h.wait(ctx)
	if err := h.client.Close(); err != nil {
		return nil, fmt.Errorf("close client: %w", err)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("scenario %q: %w", s.Name, waitErr)
	}

	// Resolve events only know their step; fill in the id.
	for i := range h.result.Trace {
		ev := &h.result.Trace[i]
		if ev.Type == EventResolve {
			ev.ID = ids[ev.Step-1]
		}
	}

	h.checkExpectations()
	for _, msg := range CheckOrdering(h.result.Trace, ids) {
		h.result.AddError(msg)
	}
	for _, msg := range EvaluateAssertions(h.result, s.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) submitAll() ([]ir.CorrelationID, error) {
	ids := make([]ir.CorrelationID, len(h.scenario.Steps))
	for i, step := range h.scenario.Steps {
		id, err := h.submit(i, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
		ids[i] = id
	}
	return ids, nil
}

func (h *Harness) submit(i int, step Step) (ir.CorrelationID, error) {
	op, err := ir.ParseOp(step.Op)
	if err != nil {
		return 0, err
	}

	onBool := func(ok bool, err error) {
		h.resolve(i, op, outcome{ok: &ok, err: err})
	}
	c := h.client

	switch op {
	case ir.OpOpen:
		name := step.Key
		if name == "" {
			name = h.scenario.Store
		}
		version := step.Version
		if version == 0 {
			version = client.DefaultVersion
		}
		return c.OpenAsync(name, version, onBool)

	case ir.OpWrite:
		if step.Binary {
			data, err := ir.DecodeBinary(step.Value)
			if err != nil {
				return 0, err
			}
			return c.WriteBytesAsync(step.Key, data, onBool)
		}
		return c.WriteAsync(step.Key, step.Value, onBool)

	case ir.OpRead:
		if step.Binary {
			return c.ReadBytesAsync(step.Key, func(data []byte, err error) {
				o := outcome{err: err}
				if data != nil {
					o.value = ir.Text(ir.EncodeBinary(data))
				}
				h.resolve(i, op, o)
			})
		}
		return c.ReadAsync(step.Key, func(v string, err error) {
			h.resolve(i, op, outcome{value: &v, err: err})
		})

	case ir.OpDelete:
		return c.DeleteAsync(step.Key, onBool)

	case ir.OpExists:
		return c.ExistsAsync(step.Key, onBool)
	}
	return 0, fmt.Errorf("unsupported op %s", op)
}

// resolve runs on the engine goroutine.
func (h *Harness) resolve(i int, op ir.Op, o outcome) {
	ev := TraceEvent{
		Type:   EventResolve,
		Step:   i + 1,
		Op:     op.String(),
		OK:     o.ok,
		Result: o.value,
	}
	if o.err != nil {
		ev.Error = o.err.Error()
	}
	h.result.addEvent(ev)
	h.outcomes[i] = o
	h.done <- i
}

func (h *Harness) wait(ctx context.Context) error {
	for remaining := len(h.scenario.Steps); remaining > 0; remaining-- {
		select {
		case <-h.done:
		case <-ctx.Done():
			return fmt.Errorf("%d of %d steps unresolved: %w", remaining, len(h.scenario.Steps), ctx.Err())
		}
	}
	return nil
}

func (h *Harness) checkExpectations() {
	for i, step := range h.scenario.Steps {
		if step.Expect == nil {
			continue
		}
		for _, msg := range compareExpect(step.Expect, h.outcomes[i]) {
			h.result.AddError(fmt.Sprintf("step %d (%s %s): %s", i+1, step.Op, step.Key, msg))
		}
	}
}

func compareExpect(want *Expect, got outcome) []string {
	var errs []string
	if want.OK != nil {
		if got.ok == nil {
			errs = append(errs, "expected a boolean result")
		} else if *got.ok != *want.OK {
			errs = append(errs, fmt.Sprintf("ok = %v, want %v", *got.ok, *want.OK))
		}
	}
	if want.Value != nil {
		have := "<nil>"
		if got.value != nil {
			have = *got.value
		}
		if got.value == nil || *got.value != *want.Value {
			errs = append(errs, fmt.Sprintf("value = %q, want %q", have, *want.Value))
		}
	}
	switch {
	case want.Error == "" && got.err != nil:
		errs = append(errs, fmt.Sprintf("unexpected error: %v", got.err))
	case want.Error != "" && got.err == nil:
		errs = append(errs, fmt.Sprintf("expected error containing %q, got none", want.Error))
	case want.Error != "" && !strings.Contains(got.err.Error(), want.Error):
		errs = append(errs, fmt.Sprintf("error %q does not contain %q", got.err.Error(), want.Error))
	}
	return errs
}

// tracingBackend records each dispatched call before forwarding it.
type tracingBackend struct {
	client.Backend
	h *Harness
}

func (b *tracingBackend) record(id ir.CorrelationID, op ir.Op, key, value string) {
	b.h.result.addEvent(TraceEvent{
		Type:  EventDispatch,
		ID:    id,
		Op:    op.String(),
		Key:   key,
		Value: value,
	})
}

func (b *tracingBackend) OpenStore(name string, version int, id ir.CorrelationID) error {
	b.record(id, ir.OpOpen, name, "")
	return b.Backend.OpenStore(name, version, id)
}

func (b *tracingBackend) Write(key, value string, id ir.CorrelationID) error {
	b.record(id, ir.OpWrite, key, value)
	return b.Backend.Write(key, value, id)
}

func (b *tracingBackend) Read(key string, id ir.CorrelationID) error {
	b.record(id, ir.OpRead, key, "")
	return b.Backend.Read(key, id)
}

func (b *tracingBackend) Delete(key string, id ir.CorrelationID) error {
	b.record(id, ir.OpDelete, key, "")
	return b.Backend.Delete(key, id)
}

func (b *tracingBackend) Exists(key string, id ir.CorrelationID) error {
	b.record(id, ir.OpExists, key, "")
	return b.Backend.Exists(key, id)
}
