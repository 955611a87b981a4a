package engine

import (
	"math"
	"sync/atomic"

	"github.com/roach88/asyncstore/internal/ir"
)

// Allocator issues correlation ids.
//
// Every id is strictly greater than all previously issued ids, so an id is
// never reused while a pending call or completion entry references it.
//
// Thread-safety: Allocator is safe for concurrent use (atomic operations).
type Allocator struct {
	last atomic.Int64
}

// NewAllocator creates an allocator whose first id is 1.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// NewAllocatorAt creates an allocator that resumes after start.
// The first call to Next returns start+1.
func NewAllocatorAt(start ir.CorrelationID) *Allocator {
	a := &Allocator{}
	a.last.Store(int64(start))
	return a
}

// Next returns a previously unused correlation id.
//
// Panics when the id space is exhausted. Reaching math.MaxInt64 is a
// precondition violation, not a runtime condition callers handle.
func (a *Allocator) Next() ir.CorrelationID {
	id := a.last.Add(1)
	if id <= 0 || id == math.MaxInt64 {
		panic("engine: correlation id space exhausted")
	}
	return ir.CorrelationID(id)
}

// Current returns the last issued id without allocating.
func (a *Allocator) Current() ir.CorrelationID {
	return ir.CorrelationID(a.last.Load())
}
