package render

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Kind is the requested output kind.
type Kind int

const (
	// KindLive is the interactive preview render triggered by edits.
	KindLive Kind = iota
	// KindFull is a complete document render (export, one-shot).
	KindFull
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindLive:
		return "live"
	case KindFull:
		return "full"
	default:
		return "unknown"
	}
}

// ParseKind parses "live" or "full". Anything else is KindLive.
func ParseKind(s string) Kind {
	if strings.EqualFold(strings.TrimSpace(s), "full") {
		return KindFull
	}
	return KindLive
}

// CancelToken is an advisory cancellation flag attached to each request.
// A request that is superseded before it starts is cancelled; a running
// request is cancelled only when its document closes or the coordinator
// shuts down. Renderers may poll it; the coordinator never waits for them
// to do so.
type CancelToken struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancelToken returns an uncancelled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{ch: make(chan struct{})}
}

// Cancel marks the token cancelled. Safe to call more than once.
func (t *CancelToken) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.ch) })
}

// Done returns a channel closed on cancellation.
func (t *CancelToken) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.ch
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Request is one render request. It is never mutated after creation.
type Request struct {
	// DocumentID identifies the document.
	DocumentID string
	// Content is the full document text. Empty when SourcePath is used.
	Content string
	// SourcePath references on-disk content read at execution time.
	SourcePath string
	// Generation is the request's position in the document's sequence.
	Generation uint64
	// Kind is the requested output kind.
	Kind Kind
	// Token is cancelled when the request is superseded.
	Token *CancelToken
	// RequestedAt is when the request was recorded.
	RequestedAt time.Time
}

// Output is what a renderer returns on success.
type Output struct {
	// Path is the produced file. Defaults to the output path handed in.
	Path string
	// PageHeights holds one entry per page, in page order.
	PageHeights []float64
}

// Renderer compiles document content into a paginated artifact.
//
// Render writes to outputPath. On failure it must not leave partial
// output behind. Implementations are not expected to be preemptible.
type Renderer interface {
	Render(ctx context.Context, req Request, outputPath string) (Output, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(ctx context.Context, req Request, outputPath string) (Output, error)

// Render implements Renderer.
func (f RendererFunc) Render(ctx context.Context, req Request, outputPath string) (Output, error) {
	return f(ctx, req, outputPath)
}

// Status is the result slot of a job.
type Status int

const (
	// StatusPending means the renderer has not returned yet.
	StatusPending Status = iota
	// StatusSucceeded means the renderer produced an artifact.
	StatusSucceeded
	// StatusFailed means the renderer reported a failure.
	StatusFailed
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job is a snapshot of the execution in flight for a document.
type Job struct {
	DocumentID string
	Generation uint64
	Kind       Kind
	Cancelled  bool
	Started    time.Time
	Status     Status
}

// Result is a surfaced render outcome.
type Result struct {
	DocumentID   string
	Generation   uint64
	Kind         Kind
	ArtifactPath string
	PageCount    int
	PageHeights  []float64
	// Err is a *RendererFailure when the render failed.
	Err         error
	Duration    time.Duration
	CompletedAt time.Time
}

// OK reports whether the result carries an artifact.
func (r Result) OK() bool {
	return r.Err == nil
}

// Sink receives surfaced results in non-decreasing generation order per
// document. It is called outside coordinator locks and may call back in.
type Sink interface {
	OnRenderResult(Result)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Result)

// OnRenderResult implements Sink.
func (f SinkFunc) OnRenderResult(r Result) {
	f(r)
}
