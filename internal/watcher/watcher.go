// Package watcher reports changes to open documents on disk.
//
// Editors often save by writing a temporary file and renaming it over the
// original, which drops a watch placed on the file itself. The watcher
// therefore watches each document's parent directory and filters events
// by file name. Bursts are not coalesced here; the render coordinator
// debounces requests.
package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/livepdf/internal/logging"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("document is already being watched")
	ErrNotWatching     = errors.New("document is not being watched")
	ErrPathNotExist    = errors.New("path does not exist")
	ErrIsDirectory     = errors.New("path is a directory")
)

// Op is the kind of change observed.
type Op uint8

const (
	// OpModified means the document's content may have changed.
	OpModified Op = iota + 1
	// OpRemoved means the document was removed or renamed away.
	OpRemoved
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpModified:
		return "MODIFIED"
	case OpRemoved:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// Event is a change to a watched document.
type Event struct {
	DocumentID string
	Path       string
	Op         Op
	Timestamp  time.Time
}

// Stats provides watcher status information.
type Stats struct {
	Documents   int
	Directories int
	TotalEvents int64
	Dropped     int64
	Errors      int64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithBufferSize sets the event channel capacity.
func WithBufferSize(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.bufSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// Watcher watches document files through fsnotify.
type Watcher struct {
	mu sync.RWMutex

	fsw *fsnotify.Watcher
	log *logging.Logger

	bufSize int
	docs    map[string]string // absolute path -> document id
	dirs    map[string]int    // directory -> watched document count

	events chan Event
	errors chan error

	totalEvents atomic.Int64
	dropped     atomic.Int64
	totalErrors atomic.Int64

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New creates a watcher and starts its event loop.
func New(opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fsw:     fsw,
		log:     logging.Nop(),
		bufSize: 64,
		docs:    make(map[string]string),
		dirs:    make(map[string]int),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.WithComponent("watcher")
	w.events = make(chan Event, w.bufSize)
	w.errors = make(chan error, w.bufSize)

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Add starts watching path on behalf of docID.
func (w *Watcher) Add(docID, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}
	if info.IsDir() {
		return ErrIsDirectory
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if _, ok := w.docs[abs]; ok {
		return ErrAlreadyWatching
	}

	dir := filepath.Dir(abs)
	if w.dirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.docs[abs] = docID
	w.log.Debug("watching document", "document", docID, "path", abs)
	return nil
}

// Remove stops watching path.
func (w *Watcher) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if _, ok := w.docs[abs]; !ok {
		return ErrNotWatching
	}
	delete(w.docs, abs)

	dir := filepath.Dir(abs)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if err := w.fsw.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			return fmt.Errorf("unwatch %s: %w", dir, err)
		}
	}
	return nil
}

// Events returns the channel of document changes.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Stats returns watcher statistics.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Stats{
		Documents:   len(w.docs),
		Directories: len(w.dirs),
		TotalEvents: w.totalEvents.Load(),
		Dropped:     w.dropped.Load(),
		Errors:      w.totalErrors.Load(),
	}
}

// Close stops the watcher and closes its channels.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.totalErrors.Add(1)
			w.log.Warn("watch error", "error", err)
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	op := convertOp(ev.Op)
	if op == 0 {
		return
	}

	w.mu.RLock()
	docID, ok := w.docs[filepath.Clean(ev.Name)]
	w.mu.RUnlock()
	if !ok {
		return
	}

	event := Event{DocumentID: docID, Path: ev.Name, Op: op, Timestamp: time.Now()}
	select {
	case w.events <- event:
		w.totalEvents.Add(1)
	default:
		w.dropped.Add(1)
		w.log.Warn("event channel full, dropping event", "document", docID)
	}
}

// convertOp maps fsnotify operations onto document changes. A rename
// into place arrives as a create of the watched name.
func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename):
		return OpRemoved
	case op.Has(fsnotify.Write) || op.Has(fsnotify.Create):
		return OpModified
	default:
		return 0
	}
}
