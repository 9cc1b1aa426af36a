// Package render turns a stream of edits into a throttled stream of renders.
//
// Each document has its own state record holding the generation counter,
// the debounce timer, the in-flight job and a pending-next flag. Requests
// arm a single-shot timer that is reset by every newer request. When the
// timer fires while a render is running, exactly one trailing render is
// queued and will use whatever content is latest when it starts.
//
// Completed renders are surfaced only if no newer generation was requested
// in the meantime; otherwise the output file is discarded. Renders of
// different documents run concurrently and share no locks beyond the
// registry lookup.
package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/livepdf/internal/artifact"
	"github.com/dshills/livepdf/internal/logging"
	"github.com/dshills/livepdf/internal/metrics"
)

// DefaultDebounce is the quiet period before a requested render starts.
const DefaultDebounce = 300 * time.Millisecond

const tracerName = "github.com/dshills/livepdf/internal/render"

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDebounce sets the debounce delay.
func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Coordinator) {
		c.metrics = r
	}
}

// Coordinator debounces, single-flights and orders renders per document.
type Coordinator struct {
	renderer  Renderer
	artifacts *artifact.Manager
	sink      Sink
	debounce  time.Duration
	log       *logging.Logger
	metrics   *metrics.Recorder
	tracer    trace.Tracer

	// ctx is handed to renderers; it is cancelled only when Close gives up.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	docs   map[string]*documentState
	closed bool
}

// documentState is the per-document record. All fields are guarded by mu.
type documentState struct {
	mu sync.Mutex

	id         string
	generation uint64 // last assigned
	latest     *Request

	timer    *time.Timer
	timerSeq uint64

	inFlight    *Job
	inFlightReq *Request
	pendingNext bool

	surfaced uint64
	closed   bool
}

// NewCoordinator creates a coordinator. sink may be nil.
func NewCoordinator(renderer Renderer, artifacts *artifact.Manager, sink Sink, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		renderer:  renderer,
		artifacts: artifacts,
		sink:      sink,
		debounce:  DefaultDebounce,
		log:       logging.Nop(),
		tracer:    otel.Tracer(tracerName),
		ctx:       ctx,
		cancel:    cancel,
		docs:      make(map[string]*documentState),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sink == nil {
		c.sink = SinkFunc(func(Result) {})
	}
	c.log = c.log.WithComponent("render")
	return c
}

// Debounce returns the configured debounce delay.
func (c *Coordinator) Debounce() time.Duration {
	return c.debounce
}

func (c *Coordinator) state(docID string, create bool) (*documentState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCoordinatorClosed
	}
	st, ok := c.docs[docID]
	if !ok && create {
		st = &documentState{id: docID}
		c.docs[docID] = st
	}
	return st, nil
}

// Open discards any state left for docID and starts a fresh record with
// the generation counter at zero.
func (c *Coordinator) Open(docID string) error {
	if docID == "" {
		return ErrEmptyDocumentID
	}
	c.CancelAll(docID)
	_, err := c.state(docID, true)
	return err
}

// RequestRender records new content for docID and (re)arms the debounce
// timer. It returns the generation assigned to the request.
func (c *Coordinator) RequestRender(docID, content string, kind Kind) (uint64, error) {
	return c.request(docID, content, "", kind)
}

// RequestRenderFile is RequestRender for content that lives on disk. The
// file is read by the renderer when the render actually starts.
func (c *Coordinator) RequestRenderFile(docID, sourcePath string, kind Kind) (uint64, error) {
	return c.request(docID, "", sourcePath, kind)
}

func (c *Coordinator) request(docID, content, sourcePath string, kind Kind) (uint64, error) {
	if docID == "" {
		return 0, ErrEmptyDocumentID
	}
	st, err := c.state(docID, true)
	if err != nil {
		return 0, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return 0, ErrDocumentClosed
	}

	st.generation++
	req := &Request{
		DocumentID:  docID,
		Content:     content,
		SourcePath:  sourcePath,
		Generation:  st.generation,
		Kind:        kind,
		Token:       NewCancelToken(),
		RequestedAt: time.Now(),
	}
	// The in-flight job is never interrupted by newer requests; its token
	// is cancelled only when the document closes.
	if st.latest != nil && st.latest != st.inFlightReq {
		st.latest.Token.Cancel()
	}
	st.latest = req

	st.timerSeq++
	seq := st.timerSeq
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(c.debounce, func() { c.fire(st, seq) })

	c.metrics.RecordRequest(kind.String())
	c.log.Debug("render requested", "document", docID, "generation", req.Generation, "kind", kind.String())
	return req.Generation, nil
}

// Flush fires docID's armed debounce timer immediately. It reports whether
// a timer was armed.
func (c *Coordinator) Flush(docID string) bool {
	st, err := c.state(docID, false)
	if err != nil || st == nil {
		return false
	}

	st.mu.Lock()
	if st.timer == nil || st.closed {
		st.mu.Unlock()
		return false
	}
	st.timer.Stop()
	seq := st.timerSeq
	st.mu.Unlock()

	c.fire(st, seq)
	return true
}

// fire runs when the debounce timer for seq expires.
func (c *Coordinator) fire(st *documentState, seq uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed || st.timer == nil || seq != st.timerSeq {
		return
	}
	st.timer = nil

	if st.inFlight != nil {
		st.pendingNext = true
		c.metrics.RecordCoalesced()
		c.log.Debug("render queued behind in-flight job",
			"document", st.id,
			"in_flight", st.inFlight.Generation,
			"latest", st.latest.Generation,
		)
		return
	}
	c.startLocked(st)
}

// startLocked launches a job for the latest request. st.mu must be held.
func (c *Coordinator) startLocked(st *documentState) {
	req := st.latest
	job := &Job{
		DocumentID: st.id,
		Generation: req.Generation,
		Kind:       req.Kind,
		Started:    time.Now(),
		Status:     StatusPending,
	}
	st.inFlight = job
	st.inFlightReq = req

	c.wg.Add(1)
	c.metrics.RenderStarted()
	go c.run(st, job, *req)
}

func (c *Coordinator) run(st *documentState, job *Job, req Request) {
	defer c.wg.Done()

	ctx, span := c.tracer.Start(c.ctx, "render.execute", trace.WithAttributes(
		attribute.String("document", req.DocumentID),
		attribute.Int64("generation", int64(req.Generation)),
		attribute.String("kind", req.Kind.String()),
	))
	out, err := c.invoke(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	c.complete(st, job, req, out, err, time.Since(job.Started))
}

// invoke calls the renderer, converting panics into failures.
func (c *Coordinator) invoke(ctx context.Context, req Request) (out Output, err error) {
	path, err := c.artifacts.OutputPath(req.DocumentID, req.Generation)
	if err != nil {
		return Output{}, err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = c.artifacts.Discard(path)
			out, err = Output{}, fmt.Errorf("renderer panic: %v", r)
		}
	}()

	out, err = c.renderer.Render(ctx, req, path)
	if err != nil {
		// No partial output is retained for a failed generation.
		_ = c.artifacts.Discard(path)
		return Output{}, err
	}
	if out.Path == "" {
		out.Path = path
	}
	return out, nil
}

// complete decides whether a finished job is surfaced or discarded, then
// starts the queued trailing render, if any.
func (c *Coordinator) complete(st *documentState, job *Job, req Request, out Output, renderErr error, elapsed time.Duration) {
	st.mu.Lock()

	stale := st.closed || req.Generation < st.generation || req.Generation <= st.surfaced
	var (
		result  Result
		outcome string
	)

	switch {
	case stale:
		job.Cancelled = true
		outcome = metrics.OutcomeDiscarded
		if renderErr == nil {
			_ = c.artifacts.Discard(out.Path)
		}
		c.log.Debug("render result discarded",
			"document", req.DocumentID,
			"generation", req.Generation,
			"latest", st.generation,
			"reason", ErrStaleResult,
		)

	case renderErr != nil:
		job.Status = StatusFailed
		outcome = metrics.OutcomeFailed
		failure := NewRendererFailure(req.DocumentID, req.Generation, renderErr)
		result = c.result(req, Output{}, failure, elapsed)
		c.log.Warn("render failed", "document", req.DocumentID, "generation", req.Generation, "error", failure.Reason)

	default:
		job.Status = StatusSucceeded
		outcome = metrics.OutcomeSurfaced
		if _, err := c.artifacts.Register(req.DocumentID, out.Path, req.Generation, time.Now()); err != nil {
			c.log.Warn("artifact registration failed", "document", req.DocumentID, "error", err)
		}
		st.surfaced = req.Generation
		result = c.result(req, out, nil, elapsed)
		c.log.Info("render surfaced",
			"document", req.DocumentID,
			"generation", req.Generation,
			"pages", len(out.PageHeights),
			"elapsed", elapsed.Round(time.Millisecond).String(),
		)
	}
	st.mu.Unlock()

	c.metrics.RenderFinished(outcome, elapsed)

	// The job stays in flight while the sink runs so a trailing render
	// cannot overtake this result.
	if !stale {
		c.sink.OnRenderResult(result)
	}
	if outcome == metrics.OutcomeSurfaced {
		c.artifacts.Sweep()
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.inFlight == job {
		st.inFlight = nil
		st.inFlightReq = nil
	}
	if st.pendingNext && !st.closed && st.inFlight == nil {
		st.pendingNext = false
		c.startLocked(st)
	}
}

func (c *Coordinator) result(req Request, out Output, err error, elapsed time.Duration) Result {
	heights := make([]float64, len(out.PageHeights))
	copy(heights, out.PageHeights)
	return Result{
		DocumentID:   req.DocumentID,
		Generation:   req.Generation,
		Kind:         req.Kind,
		ArtifactPath: out.Path,
		PageCount:    len(heights),
		PageHeights:  heights,
		Err:          err,
		Duration:     elapsed,
		CompletedAt:  time.Now(),
	}
}

// CancelAll forgets docID: the armed timer and pending-next flag are
// cleared and the state record is removed. A render already in flight is
// left to finish and its result is discarded.
func (c *Coordinator) CancelAll(docID string) {
	c.mu.Lock()
	st, ok := c.docs[docID]
	delete(c.docs, docID)
	c.mu.Unlock()

	if ok {
		c.closeState(st)
	}
}

func (c *Coordinator) closeState(st *documentState) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.closed = true
	st.pendingNext = false
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	if st.latest != nil {
		st.latest.Token.Cancel()
	}
	if st.inFlight != nil {
		st.inFlight.Cancelled = true
		st.inFlightReq.Token.Cancel()
	}
}

// Job returns a snapshot of the job in flight for docID.
func (c *Coordinator) Job(docID string) (Job, bool) {
	st, err := c.state(docID, false)
	if err != nil || st == nil {
		return Job{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.inFlight == nil {
		return Job{}, false
	}
	return *st.inFlight, true
}

// Generation returns the latest generation assigned for docID.
func (c *Coordinator) Generation(docID string) uint64 {
	st, err := c.state(docID, false)
	if err != nil || st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.generation
}

// Close stops all timers and waits for in-flight renders. If ctx ends
// first, the renderers' context is cancelled and ctx's error returned.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	states := make([]*documentState, 0, len(c.docs))
	for _, st := range c.docs {
		states = append(states, st)
	}
	c.docs = make(map[string]*documentState)
	c.mu.Unlock()

	for _, st := range states {
		c.closeState(st)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		// Late completions find their state closed and are discarded.
		c.cancel()
		return ctx.Err()
	}
}
