package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/asyncstore/internal/client"
)

// goldenTimeout bounds a scenario run under RunWithGolden.
const goldenTimeout = 5 * time.Second

// TraceSnapshot captures the complete trace for a scenario execution.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Pass         bool         `json:"pass"`
	Errors       []string     `json:"errors,omitempty"`
	Trace        []TraceEvent `json:"trace"`
}

// MarshalSnapshot renders a snapshot as indented JSON with a trailing
// newline. Field order is fixed by the struct, so output is deterministic.
func MarshalSnapshot(s TraceSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, backend client.Backend) (*Result, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), goldenTimeout)
	defer cancel()

	result, err := Run(ctx, scenario, backend)
	if err != nil {
		return nil, err
	}

	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Pass:         result.Pass,
		Errors:       result.Errors,
		Trace:        result.Trace,
	}
	data, err := MarshalSnapshot(snapshot)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
