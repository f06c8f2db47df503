// Package store persists the full scene snapshot as a single opaque blob.
//
// Backends only promise whole-document reads and writes: a Write replaces the
// previous document entirely and a Read returns the last successful Write.
// Interpreting the document is left to the scene package.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotExist is returned by Read when nothing has been written yet.
var ErrNotExist = errors.New("snapshot does not exist")

// Store reads and writes the persisted scene document.
type Store interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	// Backend names the implementation for logs and diagnostics.
	Backend() string
	Close() error
}

// Backend identifiers accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open constructs the named backend rooted at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", BackendFile:
		return OpenFile(path)
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// CorruptStateError reports a persisted document that exists but cannot be
// decoded. It is fatal at startup.
type CorruptStateError struct {
	Backend  string
	Location string
	Err      error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt scene state in %s store %s: %v", e.Backend, e.Location, e.Err)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}
