package transfer

import (
	"errors"
	"fmt"

	"digital.vasic.vfs/pkg/client"
)

// Errors returned by Transfer. Backend failures are reported as *BackendError
// and match the sentinel for their kind through errors.Is.
var (
	ErrFileExists        = errors.New("file exists")
	ErrNotADirectory     = errors.New("not a directory")
	ErrIsDirectory       = errors.New("is a directory")
	ErrNotSameFilesystem = errors.New("not on the same filesystem")
	ErrLoop              = errors.New("directory loop detected")
	ErrInterrupted       = errors.New("transfer interrupted")
	ErrDirectoryNotEmpty = errors.New("directory not empty")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
)

// BackendError records a failed backend operation on one path.
type BackendError struct {
	Op   string
	Path string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is maps the client sentinels onto the transfer error kinds.
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrFileExists:
		return errors.Is(e.Err, client.ErrExist)
	case ErrDirectoryNotEmpty:
		return errors.Is(e.Err, client.ErrNotEmpty)
	case ErrNotADirectory:
		return errors.Is(e.Err, client.ErrNotDir)
	}
	return false
}

func backendError(op, path string, err error) error {
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, Path: path, Err: err}
}
