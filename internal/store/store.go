package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migrations holds the schema steps; migrations[i] brings a database from
// user_version i to i+1. Append only.
var migrations = []string{
	schemaSQL,
}

// schemaVersion is the user_version of a fully migrated database.
var schemaVersion = len(migrations)

// pragma is a connection setting applied by Open and read back to confirm
// SQLite accepted it.
type pragma struct {
	name  string
	value string
	want  string
}

var pragmas = []pragma{
	{"journal_mode", "WAL", "wal"},
	{"synchronous", "NORMAL", "1"},
	{"busy_timeout", "5000", "5000"},
	{"foreign_keys", "ON", "1"},
}

// Store holds named key/value stores in one SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path, applies the connection
// pragmas, and migrates the schema to the current version.
//
// A database written by a newer asyncstore (user_version above the known
// schema) is refused rather than modified.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// One connection: the backend worker is the only writer, and an
	// in-memory database would otherwise be private to each connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.configure(isMemory(path)); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Checkpoint flushes the write-ahead log into the main database file.
// TRUNCATE mode also resets the WAL so its size does not grow unbounded.
func (s *Store) Checkpoint(ctx context.Context) error {
	var busy, logFrames, checkpointed int
	err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if busy != 0 {
		return fmt.Errorf("checkpoint: database busy")
	}
	return nil
}

func (s *Store) configure(memory bool) error {
	for _, p := range pragmas {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("set %s: %w", p.name, err)
		}
		want := p.want
		if memory && p.name == "journal_mode" {
			// In-memory databases have no WAL file to write.
			want = "memory"
		}
		if err := s.verifyPragma(p.name, want); err != nil {
			return err
		}
	}
	return nil
}

// migrate runs every migration above the stored user_version, each in its
// own transaction together with the version bump.
func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", version, schemaVersion)
	}

	for v := version; v < schemaVersion; v++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("migrate to %d: begin tx: %w", v+1, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to %d: %w", v+1, err)
		}
		// PRAGMA does not take bound parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to %d: set version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to %d: commit: %w", v+1, err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma reads back as expected.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if !strings.EqualFold(value, expected) {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:") || strings.Contains(path, "mode=memory")
}
