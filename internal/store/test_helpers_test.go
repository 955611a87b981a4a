package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore creates a new file-backed store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createOpenStore creates a test store with one named store already open.
func createOpenStore(t *testing.T, name string) *Store {
	t.Helper()
	s := createTestStore(t)
	if _, err := s.OpenStore(context.Background(), name, 1); err != nil {
		t.Fatalf("OpenStore(%q) failed: %v", name, err)
	}
	return s
}

// storedVersion reads a store's version straight from the stores table.
func storedVersion(t *testing.T, s *Store, name string) int {
	t.Helper()
	var v int
	if err := s.db.QueryRow("SELECT version FROM stores WHERE name = ?", name).Scan(&v); err != nil {
		t.Fatalf("read version of %q: %v", name, err)
	}
	return v
}
