// Package engine implements the asyncstore dispatch loop.
//
// The engine turns an asynchronous, callback-driven backend into an ordered
// sequence of request/response pairs. Each submitted operation gets a
// correlation id, waits in a FIFO queue, and is dispatched only after every
// earlier operation has been resolved.
//
// ARCHITECTURE:
//
// Single-Flight Dispatch Loop:
// One goroutine runs Engine.Run. Per cycle it:
// 1. Dequeues the head PendingCall (or waits for one)
// 2. Runs its dispatch action, which starts the backend call and returns
// 3. Waits until the callback adapter stores the completion for that id
// 4. Removes the completion and invokes the typed continuation
//
// Because dispatch strictly follows the previous resolution, backend calls
// are issued and results are delivered in submission order even when the
// backend could complete out of order.
//
// Completion Table:
// OnCompletion (any goroutine) writes, the Run loop reads then deletes. The
// table is mutex guarded and wakes the waiter directly instead of being
// polled. Completions for ids with no live pending call are logged and
// discarded.
//
// Failure modes:
// A backend that never completes stalls the loop on that operation unless
// WithCompletionTimeout is set. Backend failures, malformed payloads, and
// timeouts reach the continuation as *RuntimeError values next to the
// reduced result; they never stop the loop.
package engine
