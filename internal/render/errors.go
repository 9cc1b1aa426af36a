package render

import (
	"errors"
	"fmt"
)

// Coordinator errors.
var (
	// ErrCoordinatorClosed indicates the coordinator has been shut down.
	ErrCoordinatorClosed = errors.New("render coordinator closed")

	// ErrDocumentClosed indicates a request raced with the document closing.
	ErrDocumentClosed = errors.New("document closed")

	// ErrEmptyDocumentID indicates a request without a document identity.
	ErrEmptyDocumentID = errors.New("empty document id")

	// ErrStaleResult marks a completed generation that was superseded.
	// It is bookkeeping only and never reaches a Sink.
	ErrStaleResult = errors.New("stale render result discarded")
)

// RendererFailure is a failed render of one generation. It is the only
// error kind surfaced to a Sink. Failed generations are not retried.
type RendererFailure struct {
	DocumentID string
	Generation uint64
	Reason     string
	Err        error
}

// NewRendererFailure wraps a renderer error for the given generation.
func NewRendererFailure(docID string, generation uint64, err error) *RendererFailure {
	f := &RendererFailure{DocumentID: docID, Generation: generation, Err: err}
	if err != nil {
		f.Reason = err.Error()
	}
	return f
}

func (e *RendererFailure) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" {
		return fmt.Sprintf("render %s generation %d failed", e.DocumentID, e.Generation)
	}
	return fmt.Sprintf("render %s generation %d failed: %s", e.DocumentID, e.Generation, e.Reason)
}

func (e *RendererFailure) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
