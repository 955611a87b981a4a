package harness

import "github.com/roach88/asyncstore/internal/ir"

// Trace event types.
const (
	EventDispatch = "dispatch"
	EventResolve  = "resolve"
)

// TraceEvent is one dispatch or resolve observed on the engine goroutine.
type TraceEvent struct {
	Seq  int              `json:"seq"`
	Type string           `json:"type"`
	Step int              `json:"step,omitempty"`
	ID   ir.CorrelationID `json:"id"`
	Op   string           `json:"op"`

	// Dispatch fields. Key is the store name for open.
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`

	// Resolve fields. Binary results are shown base64-encoded.
	OK     *bool   `json:"ok,omitempty"`
	Result *string `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation, assertion and ordering check held.
	Pass bool `json:"pass"`

	// Trace holds dispatch and resolve events in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
