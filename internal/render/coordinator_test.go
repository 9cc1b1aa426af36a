package render

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/livepdf/internal/artifact"
)

// fakeRenderer records invocations and optionally blocks each one on gate.
type fakeRenderer struct {
	mu    sync.Mutex
	calls []Request
	paths []string

	active    atomic.Int32
	maxActive atomic.Int32

	gate  chan struct{}
	fail  func(Request) error
	pages []float64
}

func (f *fakeRenderer) Render(ctx context.Context, req Request, outputPath string) (Output, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.paths = append(f.paths, outputPath)
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return Output{}, ctx.Err()
		}
	}
	if f.fail != nil {
		if err := f.fail(req); err != nil {
			return Output{}, err
		}
	}
	if err := os.WriteFile(outputPath, []byte("%PDF-1.7\n"), 0o644); err != nil {
		return Output{}, err
	}
	return Output{PageHeights: f.pages}, nil
}

func (f *fakeRenderer) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeRenderer) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.paths))
	copy(out, f.paths)
	return out
}

// recordingSink collects surfaced results.
type recordingSink struct {
	mu      sync.Mutex
	results []Result
}

func (s *recordingSink) OnRenderResult(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *recordingSink) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}

func newTestCoordinator(t *testing.T, r Renderer, debounce time.Duration) (*Coordinator, *recordingSink, *artifact.Manager) {
	t.Helper()
	artifacts := artifact.NewManager(artifact.Config{Dir: t.TempDir(), Retention: time.Hour})
	sink := &recordingSink{}
	c := NewCoordinator(r, artifacts, sink, WithDebounce(debounce))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c, sink, artifacts
}

func waitCalls(t *testing.T, f *fakeRenderer, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.Calls()) >= n }, 2*time.Second, 5*time.Millisecond)
}

func waitResults(t *testing.T, s *recordingSink, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.Results()) >= n }, 2*time.Second, 5*time.Millisecond)
}

func TestRequestRender_AssignsIncreasingGenerations(t *testing.T) {
	c, _, _ := newTestCoordinator(t, &fakeRenderer{}, time.Hour)

	for want := uint64(1); want <= 5; want++ {
		gen, err := c.RequestRender("doc", "text", KindLive)
		require.NoError(t, err)
		assert.Equal(t, want, gen)
	}
	other, err := c.RequestRender("other", "text", KindLive)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), other, "generations are per document")
	assert.Equal(t, uint64(5), c.Generation("doc"))

	_, err = c.RequestRender("", "text", KindLive)
	assert.ErrorIs(t, err, ErrEmptyDocumentID)
}

func TestDebounce_BurstCoalescesToLastContent(t *testing.T) {
	r := &fakeRenderer{pages: []float64{842}}
	c, sink, _ := newTestCoordinator(t, r, 300*time.Millisecond)

	start := time.Now()
	_, err := c.RequestRender("doc", "a", KindLive)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = c.RequestRender("doc", "b", KindLive)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	gen, err := c.RequestRender("doc", "c", KindLive)
	require.NoError(t, err)

	waitResults(t, sink, 1)
	elapsed := time.Since(start)
	time.Sleep(100 * time.Millisecond)

	calls := r.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "c", calls[0].Content)
	assert.Equal(t, gen, calls[0].Generation)
	assert.GreaterOrEqual(t, elapsed, 370*time.Millisecond)

	results := sink.Results()
	require.Len(t, results, 1)
	assert.Equal(t, gen, results[0].Generation)
	assert.True(t, results[0].OK())
	assert.Equal(t, 1, results[0].PageCount)
}

func TestSingleFlight_LeadingAndTrailingOnly(t *testing.T) {
	r := &fakeRenderer{gate: make(chan struct{})}
	c, sink, _ := newTestCoordinator(t, r, 10*time.Millisecond)

	_, err := c.RequestRender("doc", "A", KindLive)
	require.NoError(t, err)
	waitCalls(t, r, 1)

	job, ok := c.Job("doc")
	require.True(t, ok)
	assert.Equal(t, uint64(1), job.Generation)
	assert.Equal(t, StatusPending, job.Status)

	// Two debounce firings while gen 1 runs; both fold into one pending-next.
	_, err = c.RequestRender("doc", "B", KindLive)
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)
	last, err := c.RequestRender("doc", "C", KindLive)
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)
	assert.Len(t, r.Calls(), 1, "in-flight render must not be joined by another")
	assert.False(t, r.Calls()[0].Token.Cancelled(), "newer requests do not interrupt the in-flight render")

	r.gate <- struct{}{} // gen 1 finishes, superseded
	waitCalls(t, r, 2)
	r.gate <- struct{}{} // trailing render finishes
	waitResults(t, sink, 1)
	time.Sleep(50 * time.Millisecond)

	calls := r.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "A", calls[0].Content)
	assert.Equal(t, "C", calls[1].Content)
	assert.Equal(t, last, calls[1].Generation)
	assert.Equal(t, int32(1), r.maxActive.Load())

	results := sink.Results()
	require.Len(t, results, 1)
	assert.Equal(t, last, results[0].Generation)

	assert.NoFileExists(t, r.Paths()[0], "superseded output is deleted")
	assert.FileExists(t, results[0].ArtifactPath)
	assert.False(t, calls[0].Token.Cancelled())
	assert.False(t, calls[1].Token.Cancelled())
}

func TestSingleFlight_SustainedTyping(t *testing.T) {
	r := &fakeRenderer{}
	r.fail = func(Request) error {
		time.Sleep(15 * time.Millisecond)
		return nil
	}
	c, sink, _ := newTestCoordinator(t, r, 5*time.Millisecond)

	var last uint64
	for i := 0; i < 30; i++ {
		gen, err := c.RequestRender("doc", string(rune('a'+i%26)), KindLive)
		require.NoError(t, err)
		last = gen
		time.Sleep(7 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		res := sink.Results()
		return len(res) > 0 && res[len(res)-1].Generation == last
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), r.maxActive.Load())
	assert.Less(t, len(r.Calls()), 30, "renders are coalesced")

	var prev uint64
	for _, res := range sink.Results() {
		assert.Greater(t, res.Generation, prev, "results surface in increasing generation order")
		prev = res.Generation
	}
}

func TestOutOfOrderCompletionIsDiscarded(t *testing.T) {
	c, sink, artifacts := newTestCoordinator(t, &fakeRenderer{}, time.Hour)

	for i := 0; i < 6; i++ {
		_, err := c.RequestRender("doc", "x", KindLive)
		require.NoError(t, err)
	}
	st, err := c.state("doc", false)
	require.NoError(t, err)

	path6, err := artifacts.OutputPath("doc", 6)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path6, []byte("six"), 0o644))
	path5, err := artifacts.OutputPath("doc", 5)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path5, []byte("five"), 0o644))

	job6 := &Job{DocumentID: "doc", Generation: 6, Started: time.Now()}
	c.complete(st, job6, Request{DocumentID: "doc", Generation: 6}, Output{Path: path6}, nil, time.Millisecond)

	job5 := &Job{DocumentID: "doc", Generation: 5, Started: time.Now()}
	c.complete(st, job5, Request{DocumentID: "doc", Generation: 5}, Output{Path: path5}, nil, time.Millisecond)

	results := sink.Results()
	require.Len(t, results, 1)
	assert.Equal(t, uint64(6), results[0].Generation)
	assert.True(t, job5.Cancelled)
	assert.NoFileExists(t, path5)

	active, ok := artifacts.Active("doc")
	require.True(t, ok)
	assert.Equal(t, path6, active.Path)
}

func TestRendererFailure_ReportedAndNotBlocking(t *testing.T) {
	boom := errors.New("undefined control sequence")
	r := &fakeRenderer{}
	r.fail = func(req Request) error {
		if req.Content == "bad" {
			return boom
		}
		return nil
	}
	c, sink, _ := newTestCoordinator(t, r, 5*time.Millisecond)

	gen, err := c.RequestRender("doc", "bad", KindLive)
	require.NoError(t, err)
	waitResults(t, sink, 1)

	res := sink.Results()[0]
	assert.False(t, res.OK())
	assert.Equal(t, gen, res.Generation)
	assert.Empty(t, res.ArtifactPath)

	var failure *RendererFailure
	require.ErrorAs(t, res.Err, &failure)
	assert.Equal(t, gen, failure.Generation)
	assert.ErrorIs(t, res.Err, boom)
	assert.NoFileExists(t, r.Paths()[0], "failed render leaves no output")

	good, err := c.RequestRender("doc", "good", KindLive)
	require.NoError(t, err)
	waitResults(t, sink, 2)
	assert.True(t, sink.Results()[1].OK())
	assert.Equal(t, good, sink.Results()[1].Generation)
	assert.Len(t, r.Calls(), 2, "failures are not retried")
}

func TestRendererPanic_BecomesFailure(t *testing.T) {
	r := RendererFunc(func(context.Context, Request, string) (Output, error) {
		panic("renderer exploded")
	})
	c, sink, _ := newTestCoordinator(t, r, 5*time.Millisecond)

	_, err := c.RequestRender("doc", "x", KindLive)
	require.NoError(t, err)
	waitResults(t, sink, 1)

	assert.ErrorContains(t, sink.Results()[0].Err, "renderer panic")
}

func TestCancelAll_DiscardsInFlight(t *testing.T) {
	r := &fakeRenderer{gate: make(chan struct{})}
	c, sink, artifacts := newTestCoordinator(t, r, 5*time.Millisecond)

	_, err := c.RequestRender("doc", "A", KindLive)
	require.NoError(t, err)
	waitCalls(t, r, 1)
	_, err = c.RequestRender("doc", "B", KindLive)
	require.NoError(t, err)

	c.CancelAll("doc")
	_, ok := c.Job("doc")
	assert.False(t, ok, "state record is removed")
	assert.True(t, r.Calls()[0].Token.Cancelled())

	r.gate <- struct{}{}
	time.Sleep(60 * time.Millisecond)

	assert.Empty(t, sink.Results())
	assert.Len(t, r.Calls(), 1, "pending request does not run after close")
	assert.NoFileExists(t, r.Paths()[0])
	_, ok = artifacts.Active("doc")
	assert.False(t, ok)
}

func TestOpen_ResetsGeneration(t *testing.T) {
	c, _, _ := newTestCoordinator(t, &fakeRenderer{}, time.Hour)

	_, err := c.RequestRender("doc", "x", KindLive)
	require.NoError(t, err)
	_, err = c.RequestRender("doc", "y", KindLive)
	require.NoError(t, err)

	require.NoError(t, c.Open("doc"))
	assert.Equal(t, uint64(0), c.Generation("doc"))

	gen, err := c.RequestRender("doc", "z", KindLive)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)
	assert.ErrorIs(t, c.Open(""), ErrEmptyDocumentID)
}

func TestFlush_FiresImmediately(t *testing.T) {
	r := &fakeRenderer{}
	c, sink, _ := newTestCoordinator(t, r, time.Hour)

	assert.False(t, c.Flush("doc"))
	_, err := c.RequestRenderFile("doc", "/tmp/notes.md", KindFull)
	require.NoError(t, err)
	assert.True(t, c.Flush("doc"))
	waitResults(t, sink, 1)

	calls := r.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/tmp/notes.md", calls[0].SourcePath)
	assert.Equal(t, KindFull, calls[0].Kind)
	assert.False(t, c.Flush("doc"), "timer already consumed")
}

func TestDocumentsRenderConcurrently(t *testing.T) {
	r := &fakeRenderer{gate: make(chan struct{})}
	c, sink, _ := newTestCoordinator(t, r, 5*time.Millisecond)

	_, err := c.RequestRender("a", "x", KindLive)
	require.NoError(t, err)
	_, err = c.RequestRender("b", "y", KindLive)
	require.NoError(t, err)

	waitCalls(t, r, 2)
	assert.Equal(t, int32(2), r.maxActive.Load())

	r.gate <- struct{}{}
	r.gate <- struct{}{}
	waitResults(t, sink, 2)
}

func TestClose(t *testing.T) {
	r := &fakeRenderer{gate: make(chan struct{})}
	artifacts := artifact.NewManager(artifact.Config{Dir: t.TempDir()})
	sink := &recordingSink{}
	c := NewCoordinator(r, artifacts, sink, WithDebounce(5*time.Millisecond))

	_, err := c.RequestRender("doc", "x", KindLive)
	require.NoError(t, err)
	waitCalls(t, r, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Close(ctx), context.DeadlineExceeded)

	_, err = c.RequestRender("doc", "y", KindLive)
	assert.ErrorIs(t, err, ErrCoordinatorClosed)
	assert.NoError(t, c.Close(context.Background()), "second close is a no-op")

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, sink.Results())
}

func TestCoordinator_Debounce(t *testing.T) {
	c, _, _ := newTestCoordinator(t, &fakeRenderer{}, 25*time.Millisecond)
	assert.Equal(t, 25*time.Millisecond, c.Debounce())

	d := NewCoordinator(&fakeRenderer{}, artifact.NewManager(artifact.Config{Dir: t.TempDir()}), nil, WithDebounce(0))
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	assert.Equal(t, DefaultDebounce, d.Debounce(), "non-positive delay keeps the default")
}

func TestKindAndStatusStrings(t *testing.T) {
	assert.Equal(t, "live", KindLive.String())
	assert.Equal(t, "full", KindFull.String())
	assert.Equal(t, "unknown", Kind(9).String())
	assert.Equal(t, KindFull, ParseKind(" FULL "))
	assert.Equal(t, KindLive, ParseKind("preview"))

	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "succeeded", StatusSucceeded.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "unknown", Status(7).String())
}

func TestCancelToken(t *testing.T) {
	tok := NewCancelToken()
	assert.False(t, tok.Cancelled())
	tok.Cancel()
	tok.Cancel()
	assert.True(t, tok.Cancelled())
	<-tok.Done()

	var nilTok *CancelToken
	assert.False(t, nilTok.Cancelled())
	assert.NotPanics(t, nilTok.Cancel)
}

func TestRendererFailure_Error(t *testing.T) {
	err := NewRendererFailure("notes.md", 4, errors.New("exit status 43"))
	assert.Equal(t, "render notes.md generation 4 failed: exit status 43", err.Error())

	bare := &RendererFailure{DocumentID: "notes.md", Generation: 2}
	assert.Equal(t, "render notes.md generation 2 failed", bare.Error())

	var nilErr *RendererFailure
	assert.Equal(t, "", nilErr.Error())
	assert.NoError(t, nilErr.Unwrap())
}
