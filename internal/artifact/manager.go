// Package artifact owns the rendered files produced by the preview core.
//
// Every successful render registers its output here. The most recent
// registration for a document is active and is never removed while the
// document is open; older ones become inactive and are swept once they age
// past the retention window. Closing a document releases everything it owns.
//
// Locking is per document. The registry map lock is held only to look up or
// replace a document entry, never across filesystem calls.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/dshills/livepdf/internal/logging"
	"github.com/dshills/livepdf/internal/metrics"
)

// Artifact is one rendered file on disk.
type Artifact struct {
	// ID uniquely identifies the artifact.
	ID string
	// DocumentID is the owning document identity.
	DocumentID string
	// Path is the absolute file path.
	Path string
	// Generation is the render generation that produced the file.
	Generation uint64
	// CreatedAt is when the render that produced the file completed.
	CreatedAt time.Time
	// Size is the file size at registration time.
	Size int64
	// Active is true while this is the most recently surfaced file.
	Active bool
}

// Config controls retention.
type Config struct {
	// Dir is the root under which per-document directories are created.
	Dir string
	// Retention is how long an inactive artifact is kept.
	Retention time.Duration
	// Keep is the number of newest inactive artifacts per document that
	// survive a sweep regardless of age.
	Keep int
}

// DefaultConfig returns the default retention settings.
func DefaultConfig() Config {
	return Config{
		Dir:       filepath.Join(os.TempDir(), "livepdf"),
		Retention: 30 * time.Minute,
		Keep:      0,
	}
}

// SweepStats summarizes one sweep or release.
type SweepStats struct {
	Removed  int
	Bytes    int64
	Failed   int
	Retained int
}

func (s *SweepStats) add(o SweepStats) {
	s.Removed += o.Removed
	s.Bytes += o.Bytes
	s.Failed += o.Failed
	s.Retained += o.Retained
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Manager) {
		m.metrics = r
	}
}

// WithClock overrides the time source used for ages.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager tracks artifacts per document.
type Manager struct {
	cfg     Config
	log     *logging.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	mu   sync.Mutex
	docs map[string]*documentArtifacts

	tracked atomic.Int64
}

// documentArtifacts is the per-document registry. items is in registration order.
type documentArtifacts struct {
	mu       sync.Mutex
	id       string
	dir      string
	released bool
	items    []*Artifact
}

// NewManager creates a manager.
func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.Dir == "" {
		cfg.Dir = DefaultConfig().Dir
	}
	if cfg.Retention < 0 {
		cfg.Retention = 0
	}
	if cfg.Keep < 0 {
		cfg.Keep = 0
	}

	m := &Manager{
		cfg:  cfg,
		log:  logging.Nop(),
		now:  time.Now,
		docs: make(map[string]*documentArtifacts),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithComponent("artifact")
	return m
}

// Config returns the retention settings in effect.
func (m *Manager) Config() Config {
	return m.cfg
}

// documentKey derives a stable, filesystem-safe directory name for a document.
func documentKey(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(docID)).String()
}

func (m *Manager) entry(docID string) *documentArtifacts {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[docID]
	if !ok {
		d = &documentArtifacts{
			id:  docID,
			dir: filepath.Join(m.cfg.Dir, documentKey(docID)),
		}
		m.docs[docID] = d
	}
	return d
}

func (m *Manager) lookup(docID string) (*documentArtifacts, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[docID]
	return d, ok
}

// Open resets the registry for docID. Files left over from an earlier
// session of the same identity are released first.
func (m *Manager) Open(docID string) error {
	if docID == "" {
		return ErrEmptyDocumentID
	}
	m.ReleaseAll(docID)
	m.entry(docID)
	return nil
}

// OutputPath returns a fresh generation-scoped path for a render of docID.
// The parent directory is created if needed; the file itself is not.
func (m *Manager) OutputPath(docID string, generation uint64) (string, error) {
	if docID == "" {
		return "", ErrEmptyDocumentID
	}
	dir := filepath.Join(m.cfg.Dir, documentKey(docID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &IOError{Op: "mkdir", Path: dir, Err: err}
	}
	name := fmt.Sprintf("g%06d-%s.pdf", generation, uuid.NewString()[:8])
	return filepath.Join(dir, name), nil
}

// Register records a successful render output and makes it the active
// artifact for docID. The previously active artifact becomes inactive.
func (m *Manager) Register(docID, path string, generation uint64, createdAt time.Time) (Artifact, error) {
	if docID == "" {
		return Artifact{}, ErrEmptyDocumentID
	}
	if path == "" {
		return Artifact{}, ErrEmptyPath
	}

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	a := &Artifact{
		ID:         uuid.NewString(),
		DocumentID: docID,
		Path:       path,
		Generation: generation,
		CreatedAt:  createdAt,
		Size:       size,
		Active:     true,
	}

	d := m.entry(docID)
	d.mu.Lock()
	for _, prev := range d.items {
		prev.Active = false
	}
	d.items = append(d.items, a)
	d.mu.Unlock()

	m.tracked.Add(1)
	m.log.Debug("artifact registered",
		"document", docID,
		"generation", generation,
		"path", path,
		"size", humanize.Bytes(uint64(size)),
	)
	return *a, nil
}

// Active returns the active artifact for docID.
func (m *Manager) Active(docID string) (Artifact, bool) {
	d, ok := m.lookup(docID)
	if !ok {
		return Artifact{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.items) - 1; i >= 0; i-- {
		if d.items[i].Active {
			return *d.items[i], true
		}
	}
	return Artifact{}, false
}

// List returns copies of all artifacts tracked for docID, oldest first.
func (m *Manager) List(docID string) []Artifact {
	d, ok := m.lookup(docID)
	if !ok {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Artifact, len(d.items))
	for i, a := range d.items {
		out[i] = *a
	}
	return out
}

// Tracked returns the number of artifacts tracked across all documents.
func (m *Manager) Tracked() int {
	return int(m.tracked.Load())
}

// Sweep deletes every inactive artifact older than the retention window
// that is not among the newest Keep inactive artifacts of its document.
// Active artifacts are never considered. Failures are logged and skipped.
func (m *Manager) Sweep() SweepStats {
	m.mu.Lock()
	docs := make([]*documentArtifacts, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, d)
	}
	m.mu.Unlock()

	var total SweepStats
	for _, d := range docs {
		total.add(m.sweepDocument(d))
	}

	m.metrics.SetArtifacts(m.Tracked(), total.Retained)
	if total.Removed > 0 || total.Failed > 0 {
		m.log.Info("sweep finished",
			"removed", total.Removed,
			"reclaimed", humanize.Bytes(uint64(total.Bytes)),
			"failed", total.Failed,
			"retained", total.Retained,
		)
	}
	return total
}

func (m *Manager) sweepDocument(d *documentArtifacts) SweepStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	var stats SweepStats
	if d.released {
		return stats
	}

	inactive := make([]*Artifact, 0, len(d.items))
	for _, a := range d.items {
		if !a.Active {
			inactive = append(inactive, a)
		}
	}
	sort.SliceStable(inactive, func(i, j int) bool {
		return inactive[i].CreatedAt.After(inactive[j].CreatedAt)
	})

	now := m.now()
	doomed := make(map[*Artifact]bool)
	for i, a := range inactive {
		if i < m.cfg.Keep || now.Sub(a.CreatedAt) <= m.cfg.Retention {
			stats.Retained++
			continue
		}
		if err := m.remove(a.Path); err != nil {
			stats.Failed++
			stats.Retained++
			continue
		}
		stats.Removed++
		stats.Bytes += a.Size
		doomed[a] = true
	}

	if len(doomed) > 0 {
		kept := d.items[:0]
		for _, a := range d.items {
			if !doomed[a] {
				kept = append(kept, a)
			}
		}
		d.items = kept
		m.tracked.Add(-int64(len(doomed)))
	}
	return stats
}

// ReleaseAll deletes every artifact of docID, the active one included, and
// forgets the document. Active protection applies to open documents only.
func (m *Manager) ReleaseAll(docID string) SweepStats {
	m.mu.Lock()
	d, ok := m.docs[docID]
	delete(m.docs, docID)
	m.mu.Unlock()

	var stats SweepStats
	if !ok {
		return stats
	}

	d.mu.Lock()
	d.released = true
	items := d.items
	d.items = nil
	d.mu.Unlock()

	for _, a := range items {
		if err := m.remove(a.Path); err != nil {
			stats.Failed++
			continue
		}
		stats.Removed++
		stats.Bytes += a.Size
	}
	m.tracked.Add(-int64(len(items)))

	// Only succeeds when nothing else is left in the directory.
	_ = os.Remove(d.dir)

	if len(items) > 0 {
		m.log.Info("document artifacts released",
			"document", docID,
			"removed", stats.Removed,
			"reclaimed", humanize.Bytes(uint64(stats.Bytes)),
			"failed", stats.Failed,
		)
	}
	return stats
}

// Discard removes a render output that was never registered, such as the
// file of a superseded generation.
func (m *Manager) Discard(path string) error {
	if path == "" {
		return nil
	}
	return m.remove(path)
}

// remove deletes path. A missing file counts as removed.
func (m *Manager) remove(path string) error {
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		ioErr := &IOError{Op: "remove", Path: path, Err: err}
		m.metrics.ArtifactDeleteFailed()
		m.log.Warn("artifact delete skipped", "path", path, "error", ioErr)
		return ioErr
	}
	m.metrics.ArtifactDeleted(size)
	return nil
}
