package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/asyncstore/internal/client"
	"github.com/roach88/asyncstore/internal/harness"
	"github.com/roach88/asyncstore/internal/store"
	"github.com/roach88/asyncstore/internal/testutil"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Backend string // "sqlite" | "memory"
	Update  bool   // regenerate golden files
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// RunResult holds the overall result.
type RunResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// String renders the text summary.
func (r RunResult) String() string {
	var b strings.Builder
	for _, s := range r.Scenarios {
		if s.Pass {
			fmt.Fprintf(&b, "✓ %s\n", s.Name)
			continue
		}
		fmt.Fprintf(&b, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}
	fmt.Fprintf(&b, "\n%d passed, %d failed, %d total", r.Passed, r.Failed, r.Total)
	return b.String()
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>...",
		Short: "Run operation scenarios",
		Long: `Run YAML scenarios through a fresh queue and check their results,
the ordering of dispatches and resolutions, and any golden trace stored
as golden/<name>.golden next to the scenario file.

Scenarios run against an in-memory SQLite database, or the in-memory
fake backend with --backend memory. Scenarios with scripted replies
always use the fake backend. The --db database is never touched.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  asyncstore run scenarios/*.yaml
  asyncstore run ordering.yaml --update
  asyncstore run ordering.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Backend, "backend", "sqlite", "backend for unscripted scenarios (sqlite|memory)")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")

	return cmd
}

func runScenarios(opts *RunOptions, paths []string, cmd *cobra.Command) error {
	if opts.Backend != "sqlite" && opts.Backend != "memory" {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid backend %q: must be sqlite or memory", opts.Backend))
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return WrapExitError(ExitCommandError, "scenario file not found", err)
		}
	}

	result := RunResult{
		Scenarios: make([]ScenarioResult, 0, len(paths)),
		Total:     len(paths),
	}
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}

	for _, path := range paths {
		f.VerboseLog("running %s", path)
		sr := runScenario(opts, path, cmd)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if err := f.Success(result); err != nil {
		return err
	}
	if result.Failed > 0 {
		return &ExitError{
			Code:     ExitFailure,
			Message:  fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total),
			Reported: true,
		}
	}
	return nil
}

// runScenario executes a single scenario file and returns its result.
func runScenario(opts *RunOptions, path string, cmd *cobra.Command) ScenarioResult {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(path),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}
	failed := func(format string, args ...any) ScenarioResult {
		return ScenarioResult{Name: scenario.Name, Errors: []string{fmt.Sprintf(format, args...)}}
	}

	backend, cleanup, err := scenarioBackend(opts, scenario)
	if err != nil {
		return failed("backend setup failed: %v", err)
	}
	defer cleanup()

	result, err := harness.Run(cmd.Context(), scenario, backend, opts.engineOptions()...)
	if err != nil {
		return failed("execution failed: %v", err)
	}

	snapshot, err := harness.MarshalSnapshot(harness.TraceSnapshot{
		ScenarioName: scenario.Name,
		Pass:         result.Pass,
		Errors:       result.Errors,
		Trace:        result.Trace,
	})
	if err != nil {
		return failed("failed to marshal trace: %v", err)
	}

	goldenPath := goldenFilePath(path, scenario.Name)
	if opts.Update {
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0755); err != nil {
			return failed("failed to create golden directory: %v", err)
		}
		if err := os.WriteFile(goldenPath, snapshot, 0644); err != nil {
			return failed("failed to update golden file: %v", err)
		}
	} else if want, err := os.ReadFile(goldenPath); err == nil {
		if !bytes.Equal(want, snapshot) {
			result.AddError("trace does not match golden file (run with --update to regenerate)")
		}
	} else if !os.IsNotExist(err) {
		return failed("golden comparison failed: %v", err)
	}

	return ScenarioResult{Name: scenario.Name, Pass: result.Pass, Errors: result.Errors}
}

// scenarioBackend returns a fresh backend for one scenario.
func scenarioBackend(opts *RunOptions, s *harness.Scenario) (client.Backend, func(), error) {
	if s.Scripted() {
		return testutil.NewFakeBackend(), func() {}, nil
	}
	if opts.Backend == "memory" {
		return testutil.NewFakeBackend(testutil.WithAutoComplete()), func() {}, nil
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, nil, err
	}
	b := store.NewBackend(st, store.WithBackendLogger(opts.Logger))
	return b, func() {
		b.Close()
		st.Close()
	}, nil
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile, name string) string {
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}
