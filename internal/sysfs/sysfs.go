// Package sysfs provides one-shot access to Linux pseudo-filesystem attributes.
// Every call opens the attribute, performs exactly one read or write, and closes it.
// No file handle outlives a call.
package sysfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// ErrResourceUnavailable is matched by errors.Is when an attribute is missing
// or access to it is denied.
var ErrResourceUnavailable = errors.New("resource unavailable")

// IOError describes a failed attribute access.
type IOError struct {
	Op   string // "read" or "write"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Is reports ErrResourceUnavailable for not-found and permission failures.
func (e *IOError) Is(target error) bool {
	if target != ErrResourceUnavailable {
		return false
	}
	return errors.Is(e.Err, fs.ErrNotExist) || errors.Is(e.Err, fs.ErrPermission)
}

// Write writes s to the attribute at path.
// The attribute must already exist; it is never created.
func Write(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	_, werr := f.WriteString(s)
	cerr := f.Close()
	if werr != nil {
		return &IOError{Op: "write", Path: path, Err: werr}
	}
	if cerr != nil {
		return &IOError{Op: "write", Path: path, Err: cerr}
	}
	return nil
}

// ReadByte returns the first byte of the attribute at path.
func ReadByte(path string) (byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, &IOError{Op: "read", Path: path, Err: err}
	}
	defer f.Close()

	var b [1]byte
	if _, err := io.ReadFull(f, b[:]); err != nil {
		return 0, &IOError{Op: "read", Path: path, Err: err}
	}
	return b[0], nil
}

// Exists reports whether path is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
