package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/asyncstore/internal/client"
	"github.com/roach88/asyncstore/internal/engine"
	"github.com/roach88/asyncstore/internal/store"
)

// session is one open database, its backend worker and a client whose
// configured store is already open.
type session struct {
	st      *store.Store
	backend *store.Backend
	client  *client.Client
}

// engineOptions maps the resolved flags to engine options.
func (opts *RootOptions) engineOptions() []engine.Option {
	return []engine.Option{
		engine.WithLogger(opts.Logger),
		engine.WithCompletionTimeout(opts.Timeout),
		engine.WithMaxPending(opts.MaxPending),
	}
}

// openSession opens the database and the configured store.
func openSession(ctx context.Context, opts *RootOptions) (*session, error) {
	opts.Logger.Debug("opening database", "path", opts.DB)
	st, err := store.Open(opts.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	backend := store.NewBackend(st, store.WithBackendLogger(opts.Logger))
	s := &session{
		st:      st,
		backend: backend,
		client:  client.New(backend, opts.engineOptions()...),
	}

	if err := openStore(ctx, s.client, opts.Store, opts.Version); err != nil {
		s.close()
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to open store %q", opts.Store), err)
	}
	opts.Logger.Debug("store ready", "store", opts.Store, "version", opts.Version)
	return s, nil
}

// openStore opens name through c. A backend may refuse without describing
// why, so ok is checked as well as err.
func openStore(ctx context.Context, c *client.Client, name string, version int) error {
	ok, err := c.Open(ctx, name, version)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("backend refused to open the store")
	}
	return nil
}

// close shuts down in dependency order: client, backend worker, database.
func (s *session) close() error {
	return errors.Join(s.client.Close(), s.backend.Close(), s.st.Close())
}
