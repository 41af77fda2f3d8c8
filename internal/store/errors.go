package store

import (
	"errors"
	"fmt"
)

// ErrLocked is returned when another writer holds the document lock.
var ErrLocked = errors.New("document is locked by another writer")

// PersistenceError reports that the document could not be read or written.
// It aborts a sync run; the last backup stays the source of truth.
type PersistenceError struct {
	Op   string // load, backup, write, rename
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op, path string, err error) error {
	return &PersistenceError{Op: op, Path: path, Err: err}
}
