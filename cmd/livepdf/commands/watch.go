package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dshills/livepdf/internal/app"
	"github.com/dshills/livepdf/internal/render"
	"github.com/dshills/livepdf/internal/watcher"
)

const (
	watchCmdUse   = "watch <file>..."
	watchCmdShort = "Re-render files whenever they are saved"

	metricsPath          = "/metrics"
	metricsReadTimeout   = 5 * time.Second
	metricsShutdownGrace = 2 * time.Second
)

type watchCommand struct {
	globals *Globals
	summary bool
}

// NewWatchCommand creates the watch subcommand.
func NewWatchCommand(g *Globals) *cobra.Command {
	wc := &watchCommand{globals: g}

	cmd := &cobra.Command{
		Use:   watchCmdUse,
		Short: watchCmdShort,
		Args:  cobra.MinimumNArgs(1),
		RunE:  wc.run,
	}

	cmd.Flags().BoolVar(&wc.summary, "summary", true, "print a per-file summary on exit")

	return cmd
}

func (wc *watchCommand) run(cmd *cobra.Command, args []string) error {
	wc.globals.applyColor()

	cfg, err := wc.globals.loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	report := newWatchReport(out)

	rt, err := newRuntime(cfg, cmd.ErrOrStderr(), report)
	if err != nil {
		return err
	}
	defer rt.Close()

	w, err := watcher.New(watcher.WithLogger(rt.log))
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Close()

	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		if err := w.Add(path, path); err != nil {
			return err
		}
		if err := rt.service.OnDocumentOpened(path, path); err != nil {
			return err
		}
		if _, err := rt.service.OnSourceChanged(path, render.KindFull); err != nil {
			return err
		}
		rt.service.Flush(path)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go rt.artifacts.Run(ctx, cfg.Artifacts.SweepInterval)

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, rt.metrics.Handler(), rt)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownGrace)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		color.New(color.FgCyan).Fprintf(out, "Metrics on http://%s%s\n", cfg.Metrics.Addr, metricsPath)
	}

	color.New(color.FgCyan).Fprintf(out, "Watching %d file(s), debounce %s, press Ctrl-C to stop\n",
		len(args), rt.service.Coordinator().Debounce())

	for {
		select {
		case <-ctx.Done():
			if wc.summary {
				report.Summary(rt.service.Documents().List(), w.Stats())
			}
			return nil
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			wc.handle(rt, ev)
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			rt.log.Warn("watch error", "error", err)
		}
	}
}

func (wc *watchCommand) handle(rt *runtime, ev watcher.Event) {
	switch ev.Op {
	case watcher.OpModified:
		if _, err := rt.service.OnSourceChanged(ev.DocumentID, render.KindLive); err != nil {
			rt.log.Warn("render request failed", "document", ev.DocumentID, "error", err)
		}
	case watcher.OpRemoved:
		rt.log.Info("source removed, waiting for it to reappear", "path", ev.Path)
	}
}

func serveMetrics(addr string, handler http.Handler, rt *runtime) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.log.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	return srv
}

// watchReport prints render outcomes as they arrive and keeps per-file
// counts for the exit summary. It implements app.Listener.
type watchReport struct {
	out io.Writer

	mu    sync.Mutex
	stats map[string]*fileStats
}

type fileStats struct {
	renders  int
	failures int
	last     time.Duration
}

func newWatchReport(out io.Writer) *watchReport {
	return &watchReport{out: out, stats: make(map[string]*fileStats)}
}

// OnRenderResult implements app.Listener.
func (r *watchReport) OnRenderResult(ev app.RenderEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.stats[ev.DocumentID]
	if !ok {
		st = &fileStats{}
		r.stats[ev.DocumentID] = st
	}
	st.renders++
	st.last = ev.Duration

	name := filepath.Base(ev.DocumentID)
	if ev.Err != nil {
		st.failures++
		color.New(color.FgRed).Fprintf(r.out, "✗ %s #%d: %v\n", name, ev.Generation, ev.Err)
		return
	}
	color.New(color.FgGreen).Fprintf(r.out, "✓ %s #%d  %d page(s)  %s\n",
		name, ev.Generation, len(ev.PageHeights), ev.Duration.Round(time.Millisecond))
}

// OnScrollTarget implements app.Listener.
func (r *watchReport) OnScrollTarget(app.ScrollTarget) {}

// Summary prints one row per document, then the watcher counters.
func (r *watchReport) Summary(docs []*app.Document, ws watcher.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })

	tbl := table.NewWriter()
	tbl.SetOutputMirror(r.out)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"File", "Renders", "Failures", "Pages", "Size", "Last"})

	var renders, failures int
	for _, doc := range docs {
		st := r.stats[doc.ID]
		if st == nil {
			st = &fileStats{}
		}
		renders += st.renders
		failures += st.failures

		pages, size := "-", "-"
		if last, ok := doc.LastResult(); ok {
			pages = fmt.Sprint(len(last.PageHeights))
			if info, err := os.Stat(last.ArtifactPath); err == nil {
				size = humanize.Bytes(uint64(info.Size()))
			}
		}
		tbl.AppendRow(table.Row{doc.Name, st.renders, st.failures, pages, size, st.last.Round(time.Millisecond)})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("%d file(s)", len(docs)), renders, failures, "", "", ""})
	tbl.Render()

	fmt.Fprintf(r.out, "%d file event(s) in %d director(ies), %d dropped, %d watch error(s)\n",
		ws.TotalEvents, ws.Directories, ws.Dropped, ws.Errors)
}
