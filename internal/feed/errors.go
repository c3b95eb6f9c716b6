package feed

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("feed: invalid secret")
	ErrNotFound     = errors.New("feed: file not found")
	ErrUnknownFeed  = errors.New("feed: unknown feed type")
)

// StorageError reports a failed file-system operation on a feed file.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("feed storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op, path string, err error) error {
	return &StorageError{Op: op, Path: path, Err: err}
}

// NotifyError is a failed upload-session request. It is logged, never
// propagated out of a run.
type NotifyError struct {
	FeedType string
	Err      error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("feed notify %s: %v", e.FeedType, e.Err)
}

func (e *NotifyError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
