package app

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/dshills/livepdf/internal/artifact"
	"github.com/dshills/livepdf/internal/logging"
	"github.com/dshills/livepdf/internal/metrics"
	"github.com/dshills/livepdf/internal/render"
	"github.com/dshills/livepdf/internal/scroll"
)

// RenderEvent is a surfaced render outcome for one document.
type RenderEvent struct {
	DocumentID   string
	Generation   uint64
	Kind         render.Kind
	ArtifactPath string
	PageHeights  []float64
	// Err is a *render.RendererFailure when the render failed.
	Err      error
	Duration time.Duration
}

// ScrollTarget is where the preview should scroll for a document.
type ScrollTarget struct {
	DocumentID string
	// Generation is the render whose geometry was used, zero if none.
	Generation uint64
	State      scroll.State
}

// Listener receives outbound notifications. Calls for one document are
// made in order; implementations must not block for long.
type Listener interface {
	OnRenderResult(RenderEvent)
	OnScrollTarget(ScrollTarget)
}

// ListenerFuncs adapts functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Render func(RenderEvent)
	Scroll func(ScrollTarget)
}

// OnRenderResult implements Listener.
func (f ListenerFuncs) OnRenderResult(ev RenderEvent) {
	if f.Render != nil {
		f.Render(ev)
	}
}

// OnScrollTarget implements Listener.
func (f ListenerFuncs) OnScrollTarget(t ScrollTarget) {
	if f.Scroll != nil {
		f.Scroll(t)
	}
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	log      *logging.Logger
	metrics  *metrics.Recorder
	debounce time.Duration
}

// WithLogger sets the logger shared by the service and its coordinator.
func WithLogger(l *logging.Logger) Option {
	return func(o *serviceOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *serviceOptions) {
		o.metrics = r
	}
}

// WithDebounce sets the render debounce delay.
func WithDebounce(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.debounce = d
	}
}

// Service composes the render coordinator, the artifact manager and the
// scroll mapper behind the editor-facing calls.
type Service struct {
	docs        *DocumentManager
	coordinator *render.Coordinator
	artifacts   *artifact.Manager
	mapper      *scroll.Mapper
	listener    Listener
	log         *logging.Logger
	metrics     *metrics.Recorder

	mu     sync.Mutex
	closed bool
}

// NewService creates a service. listener may be nil.
func NewService(renderer render.Renderer, artifacts *artifact.Manager, mapper *scroll.Mapper, listener Listener, opts ...Option) *Service {
	o := serviceOptions{log: logging.Nop(), debounce: render.DefaultDebounce}
	for _, opt := range opts {
		opt(&o)
	}
	if listener == nil {
		listener = ListenerFuncs{}
	}

	s := &Service{
		docs:      NewDocumentManager(),
		artifacts: artifacts,
		mapper:    mapper,
		listener:  listener,
		log:       o.log.WithComponent("app"),
		metrics:   o.metrics,
	}
	s.coordinator = render.NewCoordinator(renderer, artifacts, s,
		render.WithDebounce(o.debounce),
		render.WithLogger(o.log),
		render.WithMetrics(o.metrics),
	)
	return s
}

// Documents returns the open-document registry.
func (s *Service) Documents() *DocumentManager {
	return s.docs
}

// Coordinator returns the render coordinator.
func (s *Service) Coordinator() *render.Coordinator {
	return s.coordinator
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// OnDocumentOpened starts a fresh preview session for id. Any state left
// from an earlier session with the same id is discarded, including its
// artifacts, and generations restart from one.
func (s *Service) OnDocumentOpened(id, path string) error {
	if s.isClosed() {
		return ErrServiceClosed
	}
	if _, err := s.docs.Open(id, path); err != nil {
		return NewOperationError("open", id, err)
	}
	if err := s.coordinator.Open(id); err != nil {
		return NewOperationError("open", id, err)
	}
	if err := s.artifacts.Open(id); err != nil {
		return NewOperationError("open", id, err)
	}
	s.log.Info("document opened", "document", id, "path", path)
	return nil
}

// OnEdit requests a render of content. It returns the generation
// assigned to the edit.
func (s *Service) OnEdit(id, content string) (uint64, error) {
	if _, ok := s.docs.Get(id); !ok {
		return 0, NewOperationError("edit", id, ErrDocumentNotFound)
	}
	gen, err := s.coordinator.RequestRender(id, content, render.KindLive)
	if err != nil {
		return 0, NewOperationError("edit", id, err)
	}
	return gen, nil
}

// OnSourceChanged requests a render of the document's file on disk.
func (s *Service) OnSourceChanged(id string, kind render.Kind) (uint64, error) {
	doc, ok := s.docs.Get(id)
	if !ok {
		return 0, NewOperationError("reload", id, ErrDocumentNotFound)
	}
	if doc.Path == "" {
		return 0, NewOperationError("reload", id, ErrNoSourcePath)
	}
	gen, err := s.coordinator.RequestRenderFile(id, doc.Path, kind)
	if err != nil {
		return 0, NewOperationError("reload", id, err)
	}
	return gen, nil
}

// Flush starts a pending render for id without waiting for the debounce.
func (s *Service) Flush(id string) bool {
	return s.coordinator.Flush(id)
}

// OnViewportChange records the editor viewport and emits the matching
// scroll target.
func (s *Service) OnViewportChange(id string, line int, fraction float64, totalLines int) (ScrollTarget, error) {
	doc, ok := s.docs.Get(id)
	if !ok {
		return ScrollTarget{}, NewOperationError("viewport", id, ErrDocumentNotFound)
	}
	if line < 0 || totalLines < 0 || math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return ScrollTarget{}, NewOperationError("viewport", id, ErrInvalidViewport)
	}

	doc.setViewport(scroll.Position{Line: line, Fraction: fraction, TotalLines: totalLines})
	return s.emitScrollTarget(doc), nil
}

// OnPreviewScroll maps a preview ratio back to an editor position using
// the last reported line count.
func (s *Service) OnPreviewScroll(id string, ratio float64) (scroll.Position, error) {
	doc, ok := s.docs.Get(id)
	if !ok {
		return scroll.Position{}, NewOperationError("preview-scroll", id, ErrDocumentNotFound)
	}
	vp, ok := doc.Viewport()
	if !ok {
		return scroll.Position{}, NewOperationError("preview-scroll", id, ErrNoViewport)
	}
	return s.mapper.DocumentPosition(ratio, doc.Geometry(), vp.TotalLines), nil
}

// OnDocumentClosed cancels pending work for id and deletes all of its
// artifacts.
func (s *Service) OnDocumentClosed(id string) error {
	s.coordinator.CancelAll(id)
	stats := s.artifacts.ReleaseAll(id)
	if err := s.docs.Close(id); err != nil {
		return NewOperationError("close", id, err)
	}
	s.log.Info("document closed", "document", id, "removed", stats.Removed, "failed", stats.Failed)
	return nil
}

// OnRenderResult implements render.Sink.
func (s *Service) OnRenderResult(res render.Result) {
	doc, ok := s.docs.Get(res.DocumentID)
	if !ok {
		return
	}
	doc.recordResult(res)

	s.listener.OnRenderResult(RenderEvent{
		DocumentID:   res.DocumentID,
		Generation:   res.Generation,
		Kind:         res.Kind,
		ArtifactPath: res.ArtifactPath,
		PageHeights:  res.PageHeights,
		Err:          res.Err,
		Duration:     res.Duration,
	})

	if res.OK() {
		if _, ok := doc.Viewport(); ok {
			s.emitScrollTarget(doc)
		}
	}
}

func (s *Service) emitScrollTarget(doc *Document) ScrollTarget {
	pos, _ := doc.Viewport()
	last, _ := doc.LastResult()

	target := ScrollTarget{
		DocumentID: doc.ID,
		Generation: last.Generation,
		State:      s.mapper.State(pos, scroll.PageGeometry(last.PageHeights)),
	}
	s.metrics.ScrollTarget()
	s.listener.OnScrollTarget(target)
	return target
}

// Close stops the coordinator and releases the artifacts of every open
// document.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs ErrorList
	errs.Add(s.coordinator.Close(ctx))
	for _, doc := range s.docs.List() {
		stats := s.artifacts.ReleaseAll(doc.ID)
		if stats.Failed > 0 {
			errs.Add(NewOperationError("release", doc.ID, nil).WithContext("artifacts left on disk"))
		}
		_ = s.docs.Close(doc.ID)
	}
	return errs.AsError()
}
