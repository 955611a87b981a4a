package store

import (
	"errors"

	"github.com/roach88/asyncstore/internal/ir"
)

var (
	// ErrNotFound is returned when a key has no entry.
	ErrNotFound = errors.New(ir.ErrTextNotFound)

	// ErrNoStore is returned by entry operations before any store is open.
	ErrNoStore = errors.New(ir.ErrTextNoStore)

	// ErrVersionDowngrade is returned when a store is opened at a lower
	// version than the one it was created or upgraded with.
	ErrVersionDowngrade = errors.New("version downgrade")

	// ErrBackendClosed is returned by Backend entry points after Close.
	ErrBackendClosed = errors.New("backend closed")
)
