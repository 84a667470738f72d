// Package storage persists frames to files.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/abihf/camrec/capture"
	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
)

// Storage writes one frame to a destination. Implementations must be safe
// for concurrent use by several writer workers.
type Storage interface {
	Write(path string, frame *capture.Frame) error
}

var ErrWriteFailure = errors.New("write failure")

type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("can not write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Is(target error) bool {
	return target == ErrWriteFailure
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Cause() error { return e.Err }

// Files stores frames as files, encoded by the destination extension. A file
// is either fully written or absent.
type Files struct {
	Perm os.FileMode

	// CreateDirs creates missing parent directories.
	CreateDirs bool

	// JPEGQuality is used when a raw frame is written as JPEG.
	JPEGQuality int
}

func NewFiles() *Files {
	return &Files{Perm: 0644, CreateDirs: true, JPEGQuality: 90}
}

func (s *Files) Write(path string, frame *capture.Frame) error {
	if frame == nil {
		return &WriteError{Path: path, Err: errors.New("nil frame")}
	}
	if err := s.write(path, frame); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

func (s *Files) write(path string, frame *capture.Frame) error {
	if s.CreateDirs {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return errors.Wrap(err, "create directory")
		}
	}

	perm := s.Perm
	if perm == 0 {
		perm = 0644
	}
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(perm))
	if err != nil {
		return errors.Wrap(err, "create pending file")
	}
	// no-op once committed
	defer pending.Cleanup()

	if err := encode(pending, path, frame, s.JPEGQuality); err != nil {
		return err
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return errors.Wrap(err, "atomically replace file")
	}
	return nil
}
