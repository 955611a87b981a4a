package harness

import (
	"fmt"

	"github.com/roach88/asyncstore/internal/ir"
)

// CheckOrdering verifies the dispatch loop's ordering guarantees on a trace
// of a fully resolved run, where ids[i] is the id allocated to step i+1:
//
//   - every step is dispatched exactly once, in submission order
//   - every step is resolved exactly once, in submission order
//   - a call is resolved before the next one is dispatched (single flight)
//
// Returns one message per violation.
func CheckOrdering(trace []TraceEvent, ids []ir.CorrelationID) []string {
	var errs []string

	var dispatched []ir.CorrelationID
	var resolved []int
	var inFlight ir.CorrelationID

	for _, ev := range trace {
		switch ev.Type {
		case EventDispatch:
			if inFlight != 0 {
				errs = append(errs, fmt.Sprintf("seq %d: id %d dispatched while id %d unresolved", ev.Seq, ev.ID, inFlight))
			}
			inFlight = ev.ID
			dispatched = append(dispatched, ev.ID)

		case EventResolve:
			if inFlight != ev.ID {
				errs = append(errs, fmt.Sprintf("seq %d: step %d (id %d) resolved while id %d in flight", ev.Seq, ev.Step, ev.ID, inFlight))
			}
			inFlight = 0
			resolved = append(resolved, ev.Step)
		}
	}

	if len(dispatched) != len(ids) {
		errs = append(errs, fmt.Sprintf("%d dispatches for %d steps", len(dispatched), len(ids)))
	} else {
		for i, id := range dispatched {
			if id != ids[i] {
				errs = append(errs, fmt.Sprintf("dispatch %d: id %d, want %d", i+1, id, ids[i]))
			}
		}
	}

	if len(resolved) != len(ids) {
		errs = append(errs, fmt.Sprintf("%d resolutions for %d steps", len(resolved), len(ids)))
	} else {
		for i, step := range resolved {
			if step != i+1 {
				errs = append(errs, fmt.Sprintf("resolution %d: step %d, want %d", i+1, step, i+1))
			}
		}
	}
	return errs
}
