package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/asyncstore/internal/engine"
	"github.com/roach88/asyncstore/internal/ir"
)

// KVResult is the payload printed by the key/value commands.
type KVResult struct {
	Op     string   `json:"op"`
	Key    string   `json:"key,omitempty"`
	OK     *bool    `json:"ok,omitempty"`
	Value  *string  `json:"value,omitempty"`
	Binary bool     `json:"binary,omitempty"`
	Keys   []string `json:"keys,omitempty"`
}

// String renders the text form.
func (r KVResult) String() string {
	switch {
	case r.Value != nil:
		return *r.Value
	case r.Keys != nil:
		return strings.Join(r.Keys, "\n")
	case r.OK != nil:
		return fmt.Sprintf("%t", *r.OK)
	default:
		return "ok"
	}
}

// withSession opens a session, runs fn and closes the session.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(*session) (KVResult, error)) error {
	s, err := openSession(cmd.Context(), opts)
	if err != nil {
		return err
	}

	result, err := fn(s)
	if closeErr := s.close(); closeErr != nil {
		opts.Logger.Error("error closing session", "error", closeErr)
	}
	if err != nil {
		return operationError(result.Op, err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}
	return f.Success(result)
}

// operationError maps an operation failure to an exit error.
// Failures reported by the backend, such as a missing key, exit with
// ExitFailure; everything else is a command error.
func operationError(op string, err error) error {
	if engine.IsBackendFailure(err) {
		return WrapExitError(ExitFailure, op+" failed", err)
	}
	return WrapExitError(ExitCommandError, op+" failed", err)
}

// NewPutCommand creates the put command.
func NewPutCommand(opts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "put <key> [value]",
		Short: "Write a value",
		Long: `Write a text value, or the contents of a file as a binary value.

Examples:
  asyncstore put greeting hello
  asyncstore put avatar --file avatar.png`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if (file == "") == (len(args) == 1) {
				return NewExitError(ExitCommandError, "put needs exactly one of a value argument or --file")
			}

			var data []byte
			if file != "" {
				var err error
				if data, err = os.ReadFile(file); err != nil {
					return WrapExitError(ExitCommandError, "failed to read file", err)
				}
			}

			return withSession(cmd, opts, func(s *session) (KVResult, error) {
				var ok bool
				var err error
				if file != "" {
					ok, err = s.client.WriteBytes(cmd.Context(), key, data)
				} else {
					ok, err = s.client.Write(cmd.Context(), key, args[1])
				}
				return KVResult{Op: "put", Key: key, OK: &ok, Binary: file != ""}, err
			})
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "write the file's bytes as a binary value")
	return cmd
}

// NewGetCommand creates the get command.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	var binary bool

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Read a value",
		Long: `Read a value. With --binary the value is decoded as bytes and
printed base64-encoded.

Exit codes:
  0 - Value found
  1 - Key not found
  2 - Command error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			return withSession(cmd, opts, func(s *session) (KVResult, error) {
				result := KVResult{Op: "get", Key: key, Binary: binary}
				if binary {
					data, err := s.client.ReadBytes(cmd.Context(), key)
					if err != nil {
						return result, err
					}
					result.Value = ir.Text(ir.EncodeBinary(data))
					return result, nil
				}
				v, err := s.client.Read(cmd.Context(), key)
				if err != nil {
					return result, err
				}
				result.Value = &v
				return result, nil
			})
		},
	}

	cmd.Flags().BoolVar(&binary, "binary", false, "read as binary and print base64")
	return cmd
}

// NewDelCommand creates the del command.
func NewDelCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "del <key>",
		Short:         "Delete a key (deleting a missing key succeeds)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) (KVResult, error) {
				ok, err := s.client.Delete(cmd.Context(), args[0])
				return KVResult{Op: "del", Key: args[0], OK: &ok}, err
			})
		},
	}
}

// NewHasCommand creates the has command.
func NewHasCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "has <key>",
		Short:         "Report whether a key exists",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) (KVResult, error) {
				found, err := s.client.Exists(cmd.Context(), args[0])
				return KVResult{Op: "has", Key: args[0], OK: &found}, err
			})
		},
	}
}

// NewKeysCommand creates the keys command.
func NewKeysCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "keys",
		Short:         "List the keys of the store",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) (KVResult, error) {
				// Listing is not a backend operation; it reads the database
				// directly once the queue has opened the store.
				keys, err := s.st.Keys(cmd.Context(), ir.NormalizeKey(opts.Store))
				if keys == nil {
					keys = []string{}
				}
				return KVResult{Op: "keys", Keys: keys}, err
			})
		},
	}
}

// NewFlushCommand creates the flush command.
func NewFlushCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "flush",
		Short:         "Checkpoint the write-ahead log",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) (KVResult, error) {
				return KVResult{Op: "flush"}, s.client.Flush()
			})
		},
	}
}
