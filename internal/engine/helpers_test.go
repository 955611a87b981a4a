package engine

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/asyncstore/internal/ir"
)

// quietLogger discards engine logs in tests.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startEngine creates an engine, runs it in a goroutine, and stops it on cleanup.
func startEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := New(append([]Option{WithName("test-engine"), WithLogger(quietLogger())}, opts...)...)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	t.Cleanup(func() {
		e.Stop()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("engine did not stop")
		}
	})
	return e
}

// recorder collects dispatch and resolve events in the order they happen.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// dispatchTo returns a dispatch action that records the id and forwards it on ch.
func dispatchTo(rec *recorder, ch chan<- ir.CorrelationID) func(ir.CorrelationID) error {
	return func(id ir.CorrelationID) error {
		rec.add("dispatch " + itoa(id))
		if ch != nil {
			ch <- id
		}
		return nil
	}
}

func itoa(id ir.CorrelationID) string {
	return strconv.FormatInt(int64(id), 10)
}
