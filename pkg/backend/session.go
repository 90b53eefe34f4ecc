package backend

import (
	"io"
	"os"
)

// Session is one authenticated connection to the back end. A Session is used
// by a single goroutine at a time; the pool guarantees that.
//
// Paths are absolute back-end paths. Errors for missing paths satisfy
// IsNotExist; errors that mean the connection itself is gone satisfy
// IsSessionFailure.
type Session interface {
	Stat(path string) (os.FileInfo, error)
	// Lstat is Stat without following a final symbolic link.
	Lstat(path string) (os.FileInfo, error)
	// ReadDir lists a directory with the attributes of every entry.
	ReadDir(path string) ([]os.FileInfo, error)
	Open(path string) (io.ReadCloser, error)
	// Create opens path for writing, creating or truncating it.
	Create(path string) (io.WriteCloser, error)
	Mkdir(path string) error
	Remove(path string) error
	RemoveDirectory(path string) error
	Rename(oldPath, newPath string) error
	Chmod(path string, mode os.FileMode) error
	Close() error
}

// Factory creates new sessions for a descriptor.
type Factory interface {
	NewSession(d Descriptor) (Session, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(d Descriptor) (Session, error)

func (f FactoryFunc) NewSession(d Descriptor) (Session, error) {
	return f(d)
}
