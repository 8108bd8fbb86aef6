// Package artifact moves packed run archives between local disk and remote
// storage under a fixed directory namespace.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Dir is a logical remote directory.
type Dir string

const (
	DirInput  Dir = "input"
	DirWarmup Dir = "warmup"
	DirOutput Dir = "output"
)

// BackupDir is where per-worker copies of a warmup archive are kept:
// warmup/<archive basename without extension>.
func BackupDir(archive string) Dir {
	base := path.Base(archive)
	base = strings.TrimSuffix(base, ".tar.gz")
	base = strings.TrimSuffix(base, ".tgz")
	return Dir(path.Join(string(DirWarmup), base))
}

// Valid reports whether d is one of the fixed directories or a backup
// directory beneath warmup.
func (d Dir) Valid() bool {
	switch d {
	case DirInput, DirWarmup, DirOutput:
		return true
	}
	s := string(d)
	return strings.HasPrefix(s, string(DirWarmup)+"/") &&
		!strings.Contains(strings.TrimPrefix(s, string(DirWarmup)+"/"), "/") &&
		!strings.Contains(s, "..")
}

func (d Dir) String() string { return string(d) }

// Key joins a directory and an object name into a provider key.
func Key(dir Dir, name string) string {
	return path.Join(string(dir), path.Base(name))
}

// Store is the remote artifact namespace.
type Store interface {
	// Exists reports whether name is present in dir.
	Exists(ctx context.Context, name string, dir Dir) (bool, error)

	// Put uploads the local file into dir under its base name.
	Put(ctx context.Context, localPath string, dir Dir) error

	// Get downloads name from dir into localPath. It returns false with a
	// nil error when the object does not exist.
	Get(ctx context.Context, name string, dir Dir, localPath string) (bool, error)

	// Delete removes name from dir. A missing object is not an error.
	Delete(ctx context.Context, name string, dir Dir) error

	// ListDirectory returns the object names directly inside dir, sorted.
	ListDirectory(ctx context.Context, dir Dir) ([]string, error)
}

// ErrTransfer marks a failed put or get.
var ErrTransfer = errors.New("artifact transfer failed")

// ErrInvalidDir is returned for directories outside the fixed namespace.
var ErrInvalidDir = errors.New("invalid artifact directory")

// TransferError carries the operation and object involved in a failed
// transfer.
type TransferError struct {
	Op   string
	Dir  Dir
	Name string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Dir, e.Name, e.Err)
}

func (e *TransferError) Unwrap() []error {
	return []error{ErrTransfer, e.Err}
}

// IsTransfer reports whether err is a TransferError.
func IsTransfer(err error) bool {
	return errors.Is(err, ErrTransfer)
}
