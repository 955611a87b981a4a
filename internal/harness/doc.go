// Package harness runs scripted operation sequences through a Client and
// checks the ordering guarantees of the dispatch loop.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	store: db1
//	steps:
//	  - op: open
//	  - op: write
//	    key: k
//	    value: v
//	  - op: read
//	    key: k
//	    expect:
//	      value: v
//	assertions:
//	  - type: trace_order
//	    ops: [open, write, read]
//
// Every step is submitted asynchronously before any result is awaited, so a
// scenario exercises the queue rather than a sequence of blocking calls.
//
// # Scripted Replies
//
// When steps carry a reply, the backend must be a manual
// testutil.FakeBackend. The harness then delivers each reply itself, in the
// order given by deliver (1-based step numbers), typically out of order and
// before the call was dispatched:
//
//	steps:
//	  - op: read
//	    key: a
//	    reply: { success: true, message: A }
//	  - op: read
//	    key: b
//	    reply: { success: true, message: B }
//	deliver: [2, 1]
//
// # Deterministic Traces
//
// Each run uses a fresh engine whose correlation ids start at 1, and the
// trace only holds events observed on the engine goroutine. The same
// scenario therefore yields a byte-identical trace, which RunWithGolden
// compares against testdata/golden/<name>.golden.
package harness
