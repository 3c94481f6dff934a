package sys

import (
	"io"
	"os"
	"sync/atomic"
)

// FileHandle is the subset of *os.File the container needs. Open files are
// read through io.ReaderAt and io.Seeker; writes are sequential appends.
type FileHandle interface {
	io.Reader
	io.Writer
	io.Closer
	io.ReaderAt
	io.Seeker

	Stat() (os.FileInfo, error)
	Sync() error
	Name() string
}

type CreateHandler func(name string) (FileHandle, error)
type OpenHandler func(name string) (FileHandle, error)
type RemoveHandler func(name string) error

// handlers groups the pluggable file operations. It is stored whole in an
// atomic.Value so swaps are race-free; atomic.Value requires a single
// concrete type across stores.
type handlers struct {
	create CreateHandler
	open   OpenHandler
	remove RemoveHandler
}

var defaultHandlers atomic.Value // stores handlers

func init() {
	defaultHandlers.Store(handlers{
		create: func(name string) (FileHandle, error) { return os.Create(name) },
		open:   func(name string) (FileHandle, error) { return os.Open(name) },
		remove: os.Remove,
	})
}

// SetHandlers swaps the file operations, returning the previous set.
// Tests use this to inject failing or recording file implementations;
// pass zero-value fields to keep the current handler.
func SetHandlers(create CreateHandler, open OpenHandler, remove RemoveHandler) (CreateHandler, OpenHandler, RemoveHandler) {
	prev := defaultHandlers.Load().(handlers)
	next := prev
	if create != nil {
		next.create = create
	}
	if open != nil {
		next.open = open
	}
	if remove != nil {
		next.remove = remove
	}
	defaultHandlers.Store(next)
	return prev.create, prev.open, prev.remove
}

// Create creates or truncates the named file for writing.
func Create(name string) (FileHandle, error) {
	return defaultHandlers.Load().(handlers).create(name)
}

// Open opens the named file read-only.
func Open(name string) (FileHandle, error) {
	return defaultHandlers.Load().(handlers).open(name)
}

// Remove deletes the named file.
func Remove(name string) error {
	return defaultHandlers.Load().(handlers).remove(name)
}
