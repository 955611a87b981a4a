package harness

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/asyncstore/internal/client"
	"github.com/roach88/asyncstore/internal/ir"
	"github.com/roach88/asyncstore/internal/store"
	"github.com/roach88/asyncstore/internal/testutil"
)

func loadScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func sqliteBackend(t *testing.T) client.Backend {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "harness.db"))
	require.NoError(t, err)
	b := store.NewBackend(st, store.WithBackendLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() {
		b.Close()
		st.Close()
	})
	return b
}

func TestRunWithGolden_SameTraceOnEveryBackend(t *testing.T) {
	for _, name := range []string{"open_write_read", "binary_round_trip"} {
		backends := map[string]func(t *testing.T) client.Backend{
			"memory": func(*testing.T) client.Backend {
				return testutil.NewFakeBackend(testutil.WithAutoComplete())
			},
			"inline": func(*testing.T) client.Backend {
				return testutil.NewFakeBackend(testutil.WithInlineCompletion())
			},
			"sqlite": sqliteBackend,
		}
		for kind, newBackend := range backends {
			t.Run(name+"/"+kind, func(t *testing.T) {
				result, err := RunWithGolden(t, loadScenario(t, name), newBackend(t))
				require.NoError(t, err)
				assert.True(t, result.Pass, "errors: %v", result.Errors)
			})
		}
	}
}

func TestRunWithGolden_OutOfOrderReplies(t *testing.T) {
	result, err := RunWithGolden(t, loadScenario(t, "out_of_order_replies"), testutil.NewFakeBackend())
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ScriptedNeedsFakeBackend(t *testing.T) {
	_, err := Run(context.Background(), loadScenario(t, "out_of_order_replies"), sqliteBackend(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FakeBackend")
}

func TestRun_ExpectationMismatchFails(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: mismatch
store: db1
steps:
  - op: open
  - op: read
    key: k
    expect: { value: v }
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s, testutil.NewFakeBackend(testutil.WithAutoComplete()))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `value = "", want "v"`)
	assert.Contains(t, result.Errors[1], "unexpected error")
}

func TestRun_StalledBackendReturnsContextError(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: stalled
store: db1
steps:
  - op: open
  - op: write
    key: k
    value: v
`))
	require.NoError(t, err)

	fake := testutil.NewFakeBackend()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = Run(ctx, s, fake)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "2 of 2 steps unresolved")
	assert.Len(t, fake.Calls(), 1, "second step must not dispatch while the first is stalled")
}

func TestRun_DuplicateReplyIsHarmless(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: duplicate
steps:
  - op: exists
    key: a
    reply: { success: true }
    expect: { ok: true }
  - op: exists
    key: b
    reply: { success: false }
    expect: { ok: false }
deliver: [1, 1, 2, 2]
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s, testutil.NewFakeBackend())
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "steps: [{op: open, key: db}]", "name is required"},
		{"no steps", "name: x", "steps list is required"},
		{"unknown op", "name: x\nsteps: [{op: scan, key: k}]", "unknown operation"},
		{"open without store", "name: x\nsteps: [{op: open}]", "open needs a key"},
		{"read without key", "name: x\nsteps: [{op: read}]", "key is required"},
		{"binary exists", "name: x\nsteps: [{op: exists, key: k, binary: true}]", "binary only applies"},
		{"bad base64", "name: x\nsteps: [{op: write, key: k, value: '!!', binary: true}]", "not base64"},
		{"partial replies", "name: x\nsteps: [{op: read, key: a, reply: {success: true}}, {op: read, key: b}]", "every step needs a reply"},
		{"deliver out of range", "name: x\nsteps: [{op: read, key: a, reply: {success: true}}]\ndeliver: [2]", "out of range"},
		{"deliver incomplete", "name: x\nsteps: [{op: read, key: a, reply: {success: true}}, {op: read, key: b, reply: {success: true}}]\ndeliver: [1]", "every step"},
		{"deliver unscripted", "name: x\nsteps: [{op: read, key: a}]\ndeliver: [1]", "requires scripted"},
		{"unknown field", "name: x\nstepz: []", "field stepz not found"},
		{"bad assertion", "name: x\nsteps: [{op: read, key: a}]\nassertions: [{type: final_state}]", "unknown assertion type"},
		{"order without ops", "name: x\nsteps: [{op: read, key: a}]\nassertions: [{type: trace_order}]", "ops list is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestCheckOrdering(t *testing.T) {
	ids := []ir.CorrelationID{1, 2}
	at := func(ev TraceEvent, seq int) TraceEvent { ev.Seq = seq; return ev }
	d := func(id ir.CorrelationID) TraceEvent { return TraceEvent{Type: EventDispatch, ID: id} }
	r := func(step int, id ir.CorrelationID) TraceEvent {
		return TraceEvent{Type: EventResolve, Step: step, ID: id}
	}

	good := []TraceEvent{at(d(1), 1), at(r(1, 1), 2), at(d(2), 3), at(r(2, 2), 4)}
	assert.Empty(t, CheckOrdering(good, ids))

	overlapping := []TraceEvent{at(d(1), 1), at(d(2), 2), at(r(1, 1), 3), at(r(2, 2), 4)}
	errs := CheckOrdering(overlapping, ids)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0], "dispatched while id 1 unresolved")

	reordered := []TraceEvent{at(d(2), 1), at(r(2, 2), 2), at(d(1), 3), at(r(1, 1), 4)}
	errs = CheckOrdering(reordered, ids)
	assert.Contains(t, errs, "dispatch 1: id 2, want 1")
	assert.Contains(t, errs, "resolution 1: step 2, want 1")

	missing := []TraceEvent{at(d(1), 1), at(r(1, 1), 2)}
	assert.Contains(t, CheckOrdering(missing, ids), "1 dispatches for 2 steps")
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.addEvent(TraceEvent{Type: EventDispatch, ID: 1, Op: "open"})
	result.addEvent(TraceEvent{Type: EventResolve, Step: 1, ID: 1, Op: "open"})
	result.addEvent(TraceEvent{Type: EventDispatch, ID: 2, Op: "read", Key: "k"})

	assert.Empty(t, EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceOrder, Ops: []string{"open", "read"}},
		{Type: AssertTraceCount, Op: "read", Count: 1},
		{Type: AssertTraceCount, Op: "write", Count: 0},
	}))

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceOrder, Ops: []string{"read", "open"}},
		{Type: AssertTraceCount, Op: "open", Count: 2},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "stuck at \"open\"")
	assert.Contains(t, errs[0], "[3] read k (id=2)")
	assert.Contains(t, errs[1], "1 times")
}

func TestMarshalSnapshot_NoHTMLEscaping(t *testing.T) {
	data, err := MarshalSnapshot(TraceSnapshot{
		ScenarioName: "x",
		Pass:         true,
		Trace:        []TraceEvent{{Seq: 1, Type: EventDispatch, ID: 1, Op: "write", Key: "<k>", Value: "a&b"}},
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"key": "<k>"`)
	assert.Contains(t, string(data), `"value": "a&b"`)
	assert.Equal(t, byte('\n'), data[len(data)-1])
}
