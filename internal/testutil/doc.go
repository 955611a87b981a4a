// Package testutil provides an in-process fake of the asynchronous storage
// backend for tests.
//
// FakeBackend satisfies client.Backend. It records every call in the order
// it was dispatched and reports completions through the subscribed handler
// exactly as a real backend would: as encoded ir.Completion records, from a
// goroutine of the fake's choosing.
//
// Three completion modes are supported:
//   - Manual (default): nothing completes until the test calls Complete.
//     A test that never calls Complete gets a backend that stalls forever.
//   - Auto: every call completes from an in-memory store on a separate
//     goroutine, mimicking the SQLite backend's results.
//   - Inline (with Auto): the completion is reported before the dispatch
//     call returns, which exercises completions racing ahead of the wait.
package testutil
