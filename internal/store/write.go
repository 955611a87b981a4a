package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// OpenStore creates the named store at version, or upgrades an existing one.
//
// Opening at the stored version is a no-op. Opening at a lower version fails
// with ErrVersionDowngrade and leaves the store untouched. Returns whether
// the store was created by this call.
func (s *Store) OpenStore(ctx context.Context, name string, version int) (created bool, err error) {
	if name == "" {
		return false, fmt.Errorf("open store: name is required")
	}
	if version < 1 {
		return false, fmt.Errorf("open store %q: version must be >= 1, got %d", name, version)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("open store %q: begin tx: %w", name, err)
	}
	defer tx.Rollback() // No-op if committed

	var current int
	err = tx.QueryRowContext(ctx, `SELECT version FROM stores WHERE name = ?`, name).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `INSERT INTO stores (name, version) VALUES (?, ?)`, name, version); err != nil {
			return false, fmt.Errorf("open store %q: insert: %w", name, err)
		}
		created = true
	case err != nil:
		return false, fmt.Errorf("open store %q: select: %w", name, err)
	case current > version:
		return false, fmt.Errorf("open store %q at version %d (stored %d): %w", name, version, current, ErrVersionDowngrade)
	case current < version:
		if _, err := tx.ExecContext(ctx, `UPDATE stores SET version = ? WHERE name = ?`, version, name); err != nil {
			return false, fmt.Errorf("open store %q: upgrade: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("open store %q: commit: %w", name, err)
	}
	return created, nil
}

// Put stores value under key, replacing any previous value.
// The store must exist (foreign key constraint).
func (s *Store) Put(ctx context.Context, store, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (store, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(store, key) DO UPDATE SET value = excluded.value
	`, store, key, value)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
// Returns whether an entry was removed.
func (s *Store) Delete(ctx context.Context, store, key string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE store = ? AND key = ?`, store, key)
	if err != nil {
		return false, fmt.Errorf("delete %q: %w", key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %q: rows affected: %w", key, err)
	}
	return n > 0, nil
}
