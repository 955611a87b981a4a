// Package store provides the SQLite-backed storage backend for asyncstore.
//
// Store is the synchronous layer: named stores with a version, and text
// entries keyed by (store, key). Binary values arrive already encoded as
// base64 text, so the table only ever holds TEXT.
//
// Backend wraps a Store behind the asynchronous, correlation-tagged entry
// points the engine expects. Each call is queued to a single worker
// goroutine and returns immediately; the worker reports the outcome as an
// encoded ir.Completion through the subscribed handler.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// ForceFlush runs a WAL checkpoint so buffered writes reach the main
// database file.
package store
