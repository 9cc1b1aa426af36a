package app

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/dshills/livepdf/internal/render"
	"github.com/dshills/livepdf/internal/scroll"
)

// Document is an open document and the preview state derived for it.
type Document struct {
	// ID is the caller's identity for the document.
	ID string

	// Path is the on-disk source, empty for unsaved buffers.
	Path string

	// Name is the display name.
	Name string

	// OpenedAt is when the document was (re)opened.
	OpenedAt time.Time

	mu          sync.RWMutex
	viewport    scroll.Position
	hasViewport bool
	last        render.Result
	hasResult   bool
	lastFailure error
}

// NewDocument creates a document record.
func NewDocument(id, path string) *Document {
	name := filepath.Base(path)
	if path == "" {
		name = id
	}
	return &Document{ID: id, Path: path, Name: name, OpenedAt: time.Now()}
}

// Viewport returns the last reported viewport position.
func (d *Document) Viewport() (scroll.Position, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.viewport, d.hasViewport
}

func (d *Document) setViewport(pos scroll.Position) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.viewport = pos
	d.hasViewport = true
}

// LastResult returns the last successful render.
func (d *Document) LastResult() (render.Result, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last, d.hasResult
}

// LastFailure returns the failure of the most recent render, or nil when
// the most recent render succeeded.
func (d *Document) LastFailure() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastFailure
}

// Geometry returns the page heights of the last successful render.
func (d *Document) Geometry() scroll.PageGeometry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return scroll.PageGeometry(d.last.PageHeights)
}

func (d *Document) recordResult(res render.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if res.OK() {
		d.last = res
		d.hasResult = true
		d.lastFailure = nil
		return
	}
	d.lastFailure = res.Err
}

// DocumentManager tracks open documents.
type DocumentManager struct {
	mu        sync.RWMutex
	documents map[string]*Document
	order     []string
}

// NewDocumentManager creates a new document manager.
func NewDocumentManager() *DocumentManager {
	return &DocumentManager{
		documents: make(map[string]*Document),
	}
}

// Open registers a document, replacing any record for the same id.
func (dm *DocumentManager) Open(id, path string) (*Document, error) {
	if id == "" {
		return nil, ErrEmptyDocumentID
	}
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		path = abs
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if _, exists := dm.documents[id]; !exists {
		dm.order = append(dm.order, id)
	}
	doc := NewDocument(id, path)
	dm.documents[id] = doc
	return doc, nil
}

// Get returns the open document with id.
func (dm *DocumentManager) Get(id string) (*Document, bool) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	doc, ok := dm.documents[id]
	return doc, ok
}

// Close forgets a document.
func (dm *DocumentManager) Close(id string) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if _, exists := dm.documents[id]; !exists {
		return ErrDocumentNotFound
	}
	delete(dm.documents, id)
	for i, other := range dm.order {
		if other == id {
			dm.order = append(dm.order[:i], dm.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns open documents in open order.
func (dm *DocumentManager) List() []*Document {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	docs := make([]*Document, 0, len(dm.order))
	for _, id := range dm.order {
		docs = append(docs, dm.documents[id])
	}
	return docs
}

// Count returns the number of open documents.
func (dm *DocumentManager) Count() int {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return len(dm.documents)
}
