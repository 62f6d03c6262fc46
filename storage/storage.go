// Package storage abstracts the named byte streams an index store is
// written to and read from.
//
// Index files are log-structured: output streams are append-only and
// previously written bytes are never rewritten. The one exception is the
// small persisted-counter file, which is replaced atomically as a whole
// via WriteFile.
package storage

import (
	"errors"
	"io"
	"io/fs"
	"os"
)

// ErrNotFound is returned when a named stream does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// OutputStream is a sequential append-only writer for one named file.
type OutputStream interface {
	io.Writer
	// Sync flushes written bytes to stable storage.
	Sync() error
	io.Closer
}

// InputStream is a positioned reader over one named file.
type InputStream interface {
	io.ReaderAt
	io.Closer
	// Size returns the current size of the stream in bytes.
	Size() int64
}

// Storage provides named streams within one data-part directory.
type Storage interface {
	// Path returns the opaque key identifying this partition's location.
	// Two different logical partitions never share a path.
	Path() string

	// Exists reports whether the named file exists.
	Exists(name string) (bool, error)

	// Create opens an append-only output stream, creating the file if
	// it does not exist.
	Create(name string) (OutputStream, error)

	// Open opens the named file for positioned reads.
	Open(name string) (InputStream, error)

	// ReadFile reads the whole named file.
	ReadFile(name string) ([]byte, error)

	// WriteFile atomically replaces the named file's contents.
	WriteFile(name string, data []byte) error
}

// IsNotExist reports whether err indicates a missing stream.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
