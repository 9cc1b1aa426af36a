package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dshills/livepdf/internal/app"
	"github.com/dshills/livepdf/internal/render"
)

const (
	renderCmdUse      = "render <file>"
	renderCmdShort    = "Render a file to PDF once"
	renderOutputFlag  = "output"
	renderOutputShort = "o"
	renderOutputUsage = "destination PDF (default: the source name with a .pdf extension)"
	renderDocumentID  = "render"
	renderFilePerm    = 0o644
)

// ErrOutputIsSource is returned when the destination would overwrite the source.
var ErrOutputIsSource = errors.New("output path is the source file")

// ErrRenderTimeout is returned when no result arrives in time.
var ErrRenderTimeout = errors.New("timed out waiting for render")

type renderCommand struct {
	globals *Globals
	output  string
}

// NewRenderCommand creates the render subcommand.
func NewRenderCommand(g *Globals) *cobra.Command {
	rc := &renderCommand{globals: g}

	cmd := &cobra.Command{
		Use:   renderCmdUse,
		Short: renderCmdShort,
		Args:  cobra.ExactArgs(1),
		RunE:  rc.run,
	}

	cmd.Flags().StringVarP(&rc.output, renderOutputFlag, renderOutputShort, "", renderOutputUsage)

	return cmd
}

func (rc *renderCommand) run(cmd *cobra.Command, args []string) error {
	rc.globals.applyColor()

	cfg, err := rc.globals.loadConfig()
	if err != nil {
		return err
	}

	source, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	dest, err := outputFor(source, rc.output)
	if err != nil {
		return err
	}

	events := make(chan app.RenderEvent, 1)
	listener := app.ListenerFuncs{Render: func(ev app.RenderEvent) {
		select {
		case events <- ev:
		default:
		}
	}}

	rt, err := newRuntime(cfg, cmd.ErrOrStderr(), listener)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.service.OnDocumentOpened(renderDocumentID, source); err != nil {
		return err
	}
	if _, err := rt.service.OnSourceChanged(renderDocumentID, render.KindFull); err != nil {
		return err
	}
	rt.service.Flush(renderDocumentID)

	var ev app.RenderEvent
	select {
	case ev = <-events:
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	case <-resultDeadline(cfg.Render.Timeout):
		return ErrRenderTimeout
	}
	if ev.Err != nil {
		return fmt.Errorf("render %s: %w", filepath.Base(source), ev.Err)
	}

	size, err := copyFile(ev.ArtifactPath, dest)
	if err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}

	out := cmd.OutOrStdout()
	color.New(color.FgGreen).Fprintf(out, "Rendered %s\n", filepath.Base(source))
	fmt.Fprintf(out, "  output: %s\n", dest)
	fmt.Fprintf(out, "  pages:  %d\n", len(ev.PageHeights))
	fmt.Fprintf(out, "  size:   %s\n", humanize.Bytes(uint64(size)))
	fmt.Fprintf(out, "  took:   %s\n", ev.Duration.Round(time.Millisecond))
	return nil
}

// resultDeadline fires once a render bounded by timeout can no longer
// report. A zero timeout leaves the render unbounded and never fires.
func resultDeadline(timeout time.Duration) <-chan time.Time {
	if timeout <= 0 {
		return nil
	}
	return time.After(timeout + shutdownTimeout)
}

func outputFor(source, output string) (string, error) {
	if output == "" {
		output = strings.TrimSuffix(source, filepath.Ext(source)) + ".pdf"
	}
	dest, err := filepath.Abs(output)
	if err != nil {
		return "", err
	}
	if dest == source {
		return "", ErrOutputIsSource
	}
	return dest, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, renderFilePerm)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return n, err
}
