package overlay

import (
	"errors"
	"fmt"
)

// ErrNotOpen is returned when a resolution method is called before Open.
var ErrNotOpen = errors.New("overlay: not open")

// ErrAlreadyOpen is returned when Open is called twice.
var ErrAlreadyOpen = errors.New("overlay: already open")

// ErrClosed is returned when a resolution method is called after Close.
var ErrClosed = errors.New("overlay: closed")

// PathEscapeError reports a logical path that normalizes outside the
// source root. Escapes are rejected at resolution time, never silently
// redirected.
type PathEscapeError struct {
	Path string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("overlay: path escapes source root: %s", e.Path)
}

// IOError wraps a shadow-directory I/O failure (creation, copy, cleanup).
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("overlay: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
