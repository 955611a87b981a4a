package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nDispatches:\n")
	for _, event := range e.Trace {
		if event.Type == EventDispatch {
			fmt.Fprintf(&buf, "  [%d] %s %s (id=%d)\n", event.Seq, event.Op, event.Key, event.ID)
		}
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion against the result's trace and
// returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertTraceOrder checks that the listed ops were dispatched in this
// relative order. Intervening dispatches are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range trace {
		if next == len(assertion.Ops) {
			break
		}
		if event.Type == EventDispatch && event.Op == assertion.Ops[next] {
			next++
		}
	}

	if next < len(assertion.Ops) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("ops dispatched in order: %v", assertion.Ops),
			Actual:   fmt.Sprintf("matched %d of %d, stuck at %q", next, len(assertion.Ops), assertion.Ops[next]),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceCount checks that op was dispatched exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventDispatch && event.Op == assertion.Op {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s dispatched %d times", assertion.Op, assertion.Count),
			Actual:   fmt.Sprintf("%d times", count),
			Trace:    trace,
		}
	}
	return nil
}
