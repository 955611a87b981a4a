package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, store, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM entries WHERE store = ? AND key = ?
	`, store, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

// Has reports whether key has an entry.
func (s *Store) Has(ctx context.Context, store, key string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entries WHERE store = ? AND key = ?
	`, store, key).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("has %q: %w", key, err)
	}
	return count > 0, nil
}

// Keys returns every key of a store in binary order.
func (s *Store) Keys(ctx context.Context, store string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM entries WHERE store = ? ORDER BY key ASC
	`, store)
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("keys: scan: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	return keys, nil
}
