package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/asyncstore/internal/config"
	"github.com/roach88/asyncstore/internal/ir"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	DB         string
	Store      string
	Version    int
	Timeout    time.Duration
	MaxPending int

	// Logger is built from the resolved configuration before any command runs.
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the asyncstore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "asyncstore",
		Short:   "asyncstore - ordered access to an asynchronous key/value store",
		Long:    "Issue store operations through a single-flight dispatch queue and read results in issue order.",
		Version: ir.EngineVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.ConfigPath, "config", "", "CUE config file")
	flags.StringVar(&opts.DB, "db", "", "SQLite database path")
	flags.StringVar(&opts.Store, "store", "", "store name")
	flags.IntVar(&opts.Version, "store-version", 0, "store version to open")
	flags.DurationVar(&opts.Timeout, "timeout", 0, "completion timeout (0 waits forever)")
	flags.IntVar(&opts.MaxPending, "max-pending", 0, "pending queue bound (0 is unbounded)")

	// Add subcommands
	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewDelCommand(opts))
	cmd.AddCommand(NewHasCommand(opts))
	cmd.AddCommand(NewKeysCommand(opts))
	cmd.AddCommand(NewFlushCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))

	return cmd
}

// resolve merges the config file (or defaults) under explicitly set flags
// and installs the logger.
func (opts *RootOptions) resolve(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.Load(opts.ConfigPath)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "configuration error", err)
	}

	flags := cmd.Flags()
	if !flags.Changed("format") {
		opts.Format = cfg.Format
	}
	if !flags.Changed("db") {
		opts.DB = cfg.DB
	}
	if !flags.Changed("store") {
		opts.Store = cfg.Store
	}
	if !flags.Changed("store-version") {
		opts.Version = cfg.Version
	}
	if !flags.Changed("timeout") {
		opts.Timeout = cfg.Timeout
	}
	if !flags.Changed("max-pending") {
		opts.MaxPending = cfg.MaxPending
	}

	// Validate format flag
	if !isValidFormat(opts.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
	}
	if opts.Version < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid store version %d: must be >= 1", opts.Version))
	}
	if opts.Timeout < 0 || opts.MaxPending < 0 {
		return NewExitError(ExitCommandError, "timeout and max-pending must not be negative")
	}

	level := cfg.Level()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	opts.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Execute runs the CLI with args and returns the process exit code.
// Errors are reported on stdout in the configured format.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Reported {
		return exitErr.Code
	}

	format := "text"
	if f := cmd.PersistentFlags().Lookup("format"); f != nil && isValidFormat(f.Value.String()) {
		format = f.Value.String()
	}
	f := &OutputFormatter{Format: format, Writer: stdout}
	if outErr := f.Fail(err); outErr != nil {
		fmt.Fprintln(stderr, err)
	}

	if exitErr != nil {
		return exitErr.Code
	}
	// Unclassified errors come from cobra itself: unknown commands or flags.
	return ExitCommandError
}
