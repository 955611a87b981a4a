package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/asyncstore/internal/ir"
)

// Scenario is a sequence of operations submitted to one Client, with the
// results each one must produce.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Store is the store name used by open steps without a key.
	Store string `yaml:"store,omitempty"`

	// Steps are submitted in order, all before the first result is awaited.
	Steps []Step `yaml:"steps"`

	// Deliver lists 1-based step numbers in the order their scripted replies
	// are delivered. Defaults to step order. A step may appear more than
	// once to deliver a duplicate.
	Deliver []int `yaml:"deliver,omitempty"`

	// Assertions validate the trace.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one operation.
type Step struct {
	// Op is one of open, write, read, delete, exists.
	Op string `yaml:"op"`

	// Key is the entry key, or the store name for open.
	Key string `yaml:"key,omitempty"`

	// Value is the text written by write. With Binary it is base64.
	Value string `yaml:"value,omitempty"`

	// Version is the version requested by open. Defaults to 1.
	Version int `yaml:"version,omitempty"`

	// Binary selects the byte-oriented form of write and read.
	Binary bool `yaml:"binary,omitempty"`

	// Expect specifies the expected result. Nil skips validation.
	Expect *Expect `yaml:"expect,omitempty"`

	// Reply is the completion a scripted backend reports for this step.
	Reply *Reply `yaml:"reply,omitempty"`
}

// Expect specifies what the continuation must observe.
type Expect struct {
	// OK is the boolean result of open, write, delete and exists.
	OK *bool `yaml:"ok,omitempty"`

	// Value is the result of read; base64 for binary reads.
	Value *string `yaml:"value,omitempty"`

	// Error is a substring of the error text. Empty means no error.
	Error string `yaml:"error,omitempty"`
}

// Reply is a scripted completion.
type Reply struct {
	Success bool    `yaml:"success"`
	Message *string `yaml:"message,omitempty"`
	Error   string  `yaml:"error,omitempty"`
}

// completion builds the record reported for the call with the given id.
func (r *Reply) completion(id ir.CorrelationID) ir.Completion {
	c := ir.Completion{ID: id, Success: r.Success, Message: r.Message}
	if r.Error != "" {
		c.Error = ir.Text(r.Error)
	}
	return c
}

// Assertion validates the trace.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_order": ops are dispatched in this relative order
	// - "trace_count": op is dispatched exactly Count times
	Type string `yaml:"type"`

	// Ops is the expected dispatch order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Op is the counted operation (trace_count).
	Op string `yaml:"op,omitempty"`

	// Count is the expected number of dispatches (trace_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceOrder = "trace_order"
	AssertTraceCount = "trace_count"
)

// Scripted reports whether the scenario supplies its own replies.
func (s *Scenario) Scripted() bool {
	for _, step := range s.Steps {
		if step.Reply != nil {
			return true
		}
	}
	return false
}

// deliveryOrder returns 0-based step indexes in delivery order.
func (s *Scenario) deliveryOrder() []int {
	if len(s.Deliver) == 0 {
		order := make([]int, len(s.Steps))
		for i := range order {
			order[i] = i
		}
		return order
	}
	order := make([]int, len(s.Deliver))
	for i, n := range s.Deliver {
		order[i] = n - 1
	}
	return order
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields so typos like "asserts:" fail loudly
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	scripted := s.Scripted()
	for i, step := range s.Steps {
		op, err := ir.ParseOp(step.Op)
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		switch op {
		case ir.OpOpen:
			if step.Key == "" && s.Store == "" {
				return fmt.Errorf("steps[%d]: open needs a key or a scenario store", i)
			}
			if step.Version < 0 {
				return fmt.Errorf("steps[%d]: version must be positive", i)
			}
		default:
			if step.Key == "" {
				return fmt.Errorf("steps[%d]: key is required for %s", i, op)
			}
		}
		if step.Binary {
			if op != ir.OpWrite && op != ir.OpRead {
				return fmt.Errorf("steps[%d]: binary only applies to write and read", i)
			}
			if op == ir.OpWrite {
				if _, err := ir.DecodeBinary(step.Value); err != nil {
					return fmt.Errorf("steps[%d]: binary value is not base64: %w", i, err)
				}
			}
		}
		if scripted && step.Reply == nil {
			return fmt.Errorf("steps[%d]: every step needs a reply once any step has one", i)
		}
	}

	if len(s.Deliver) > 0 {
		if !scripted {
			return fmt.Errorf("deliver requires scripted replies")
		}
		seen := make(map[int]bool, len(s.Steps))
		for i, n := range s.Deliver {
			if n < 1 || n > len(s.Steps) {
				return fmt.Errorf("deliver[%d]: step %d out of range 1..%d", i, n, len(s.Steps))
			}
			seen[n] = true
		}
		if len(seen) != len(s.Steps) {
			return fmt.Errorf("deliver must name every step at least once")
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
		for _, op := range a.Ops {
			if _, err := ir.ParseOp(op); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertTraceCount:
		if _, err := ir.ParseOp(a.Op); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
