package engine

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/asyncstore/internal/ir"
)

func TestAllocator_StartsAtOne(t *testing.T) {
	a := NewAllocator()
	assert.Equal(t, ir.CorrelationID(0), a.Current())
	assert.Equal(t, ir.CorrelationID(1), a.Next())
	assert.Equal(t, ir.CorrelationID(2), a.Next())
	assert.Equal(t, ir.CorrelationID(2), a.Current())
}

func TestAllocator_ResumesAt(t *testing.T) {
	a := NewAllocatorAt(100)
	assert.Equal(t, ir.CorrelationID(100), a.Current())
	assert.Equal(t, ir.CorrelationID(101), a.Next())
}

func TestAllocator_ThreadSafe(t *testing.T) {
	a := NewAllocator()
	const goroutines = 50
	const callsPerGoroutine = 200

	var wg sync.WaitGroup
	ids := make(chan ir.CorrelationID, goroutines*callsPerGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				ids <- a.Next()
			}
		}()
	}

	wg.Wait()
	close(ids)

	seen := make(map[ir.CorrelationID]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d issued twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, goroutines*callsPerGoroutine)
	assert.Equal(t, ir.CorrelationID(goroutines*callsPerGoroutine), a.Current())
}

func TestAllocator_ExhaustionPanics(t *testing.T) {
	a := NewAllocatorAt(math.MaxInt64 - 1)
	assert.Panics(t, func() { a.Next() })
}
