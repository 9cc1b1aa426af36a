package artifact

import (
	"errors"
	"fmt"
)

// Manager errors.
var (
	// ErrEmptyDocumentID indicates an operation was called without a document identity.
	ErrEmptyDocumentID = errors.New("empty document id")

	// ErrEmptyPath indicates an artifact was registered without a path.
	ErrEmptyPath = errors.New("empty artifact path")
)

// IOError is a filesystem failure while creating or deleting an artifact.
// It is logged and skipped by the manager; it never fails a render.
type IOError struct {
	Op   string // "mkdir", "remove"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("artifact %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
