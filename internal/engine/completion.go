package engine

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/asyncstore/internal/ir"
)

// completionSlot holds the completion for one live correlation id.
type completionSlot struct {
	ready  chan struct{} // closed when the first payload is stored
	filled bool
	value  ir.Completion
}

// completionTable maps correlation ids to completion payloads.
//
// It is the one structure touched from two goroutines: the callback adapter
// writes (put) and the Run loop reads then deletes (await). A slot is
// registered at submit time, so only ids with a live pending call are
// accepted; anything else is rejected and never retained.
type completionTable struct {
	mu    sync.Mutex
	slots map[ir.CorrelationID]*completionSlot
}

func newCompletionTable() *completionTable {
	return &completionTable{slots: make(map[ir.CorrelationID]*completionSlot)}
}

// register creates an empty slot for id.
func (t *completionTable) register(id ir.CorrelationID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[id] = &completionSlot{ready: make(chan struct{})}
}

// forget drops the slot for id whether or not it was filled.
func (t *completionTable) forget(id ir.CorrelationID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.slots, id)
}

// put stores c in its slot and wakes the waiter. A second payload for the
// same live id overwrites the first. Returns false if no slot exists.
func (t *completionTable) put(c ir.Completion) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, ok := t.slots[c.ID]
	if !ok {
		return false
	}
	slot.value = c
	if !slot.filled {
		slot.filled = true
		close(slot.ready)
	}
	return true
}

// await blocks until the slot for id is filled, then removes and returns it.
//
// A zero timeout waits forever. On timeout or context cancellation the slot
// is left in place for the caller to forget, and ok is false.
func (t *completionTable) await(ctx context.Context, id ir.CorrelationID, timeout time.Duration) (c ir.Completion, ok bool, err error) {
	t.mu.Lock()
	slot, exists := t.slots[id]
	t.mu.Unlock()
	if !exists {
		return ir.Completion{}, false, nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-slot.ready:
	case <-expired:
		return ir.Completion{}, false, nil
	case <-ctx.Done():
		return ir.Completion{}, false, ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	c = slot.value
	delete(t.slots, id)
	return c, true, nil
}

// Len returns the number of completions stored but not yet consumed.
func (t *completionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, slot := range t.slots {
		if slot.filled {
			n++
		}
	}
	return n
}
