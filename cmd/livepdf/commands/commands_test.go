package commands

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/livepdf/internal/app"
	"github.com/dshills/livepdf/internal/config"
	"github.com/dshills/livepdf/internal/render"
	"github.com/dshills/livepdf/internal/watcher"
)

// twoPagePDF is a minimal document with a classic cross-reference table.
var twoPagePDF = func() string {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 /MediaBox [0 0 612 792] /Resources << >> >>",
		"<< /Type /Page /Parent 2 0 R >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595.28 841.89] >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.String()
}()

// writeConfig writes a TOML config that copies the input to the output
// instead of running a real document converter.
func writeConfig(t *testing.T, renderExtra ...string) *Globals {
	t.Helper()
	dir := t.TempDir()
	body := "[render]\ncommand = \"cp {input} {output}\"\ndebounce = \"10ms\"\n"
	for _, line := range renderExtra {
		body += line + "\n"
	}
	body += fmt.Sprintf("\n[artifacts]\ndir = %q\n", filepath.Join(dir, "artifacts"))
	path := filepath.Join(dir, "livepdf.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return &Globals{ConfigPath: path, NoColor: true}
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMapCommand_Forward(t *testing.T) {
	g := writeConfig(t)

	out, err := execute(t, NewMapCommand(g), "--line", "500", "--total", "1000", "--pages", "1000,1000")
	require.NoError(t, err)
	assert.Contains(t, out, "0.5000")
	assert.Contains(t, out, "0.567")
	assert.Contains(t, out, "1134.6")
}

func TestMapCommand_WithoutPages(t *testing.T) {
	g := writeConfig(t)

	out, err := execute(t, NewMapCommand(g), "--line", "0", "--total", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "PAGE OFFSET")
	assert.Contains(t, out, "-")
}

func TestMapCommand_Reverse(t *testing.T) {
	g := writeConfig(t)

	out, err := execute(t, NewMapCommand(g), "--ratio", "1", "--total", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "FRACTION")
	assert.Contains(t, out, "1.0000")
}

func TestMapCommand_Errors(t *testing.T) {
	g := writeConfig(t)

	_, err := execute(t, NewMapCommand(g), "--line", "3")
	assert.ErrorIs(t, err, ErrNoLines)

	_, err = execute(t, NewMapCommand(g), "--line", "3", "--fraction", "1.5", "--total", "10")
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

func TestConfigShow(t *testing.T) {
	g := writeConfig(t)

	out, err := execute(t, NewConfigCommand(g), "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[render]")
	assert.Contains(t, out, "cp {input} {output}")
	assert.Contains(t, out, "gamma = 0.92")

	out, err = execute(t, NewConfigCommand(g), "show", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "debounce: 10ms")

	_, err = execute(t, NewConfigCommand(g), "show", "--format", "ini")
	assert.ErrorIs(t, err, config.ErrUnknownEncoding)
}

func TestConfigShow_Verbose(t *testing.T) {
	g := writeConfig(t)
	g.Verbose = true

	out, err := execute(t, NewConfigCommand(g), "show", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "level: debug")
}

func TestRenderCommand(t *testing.T) {
	g := writeConfig(t)
	dir := t.TempDir()
	source := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(source, []byte(twoPagePDF), 0o644))
	dest := filepath.Join(dir, "copy.pdf")

	out, err := execute(t, NewRenderCommand(g), source, "-o", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "Rendered doc.pdf")
	assert.Contains(t, out, "pages:  2")

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, twoPagePDF, string(data))
}

func TestRenderCommand_UnboundedTimeout(t *testing.T) {
	g := writeConfig(t, `timeout = "0s"`)
	dir := t.TempDir()
	source := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(source, []byte(twoPagePDF), 0o644))

	out, err := execute(t, NewRenderCommand(g), source, "-o", filepath.Join(dir, "copy.pdf"))
	require.NoError(t, err)
	assert.Contains(t, out, "pages:  2")
}

func TestResultDeadline(t *testing.T) {
	assert.Nil(t, resultDeadline(0), "zero timeout never gives up")

	select {
	case <-resultDeadline(time.Millisecond):
	case <-time.After(shutdownTimeout + 5*time.Second):
		t.Fatal("bounded deadline did not fire")
	}
}

func TestRenderCommand_Failure(t *testing.T) {
	g := writeConfig(t)
	missing := filepath.Join(t.TempDir(), "missing.md")

	_, err := execute(t, NewRenderCommand(g), missing)
	var failure *render.RendererFailure
	assert.ErrorAs(t, err, &failure)
}

func TestOutputFor(t *testing.T) {
	dest, err := outputFor("/docs/report.md", "")
	require.NoError(t, err)
	assert.Equal(t, "/docs/report.pdf", dest)

	_, err = outputFor("/docs/report.pdf", "")
	assert.ErrorIs(t, err, ErrOutputIsSource)
}

func TestWatchReport(t *testing.T) {
	var out bytes.Buffer
	report := newWatchReport(&out)

	report.OnRenderResult(app.RenderEvent{DocumentID: "/docs/a.md", Generation: 1, PageHeights: []float64{792, 792}})
	report.OnRenderResult(app.RenderEvent{DocumentID: "/docs/a.md", Generation: 2, Err: errors.New("bad table")})
	assert.Contains(t, out.String(), "a.md #1  2 page(s)")
	assert.Contains(t, out.String(), "a.md #2: bad table")

	out.Reset()
	docs := []*app.Document{app.NewDocument("/docs/a.md", "/docs/a.md"), app.NewDocument("/docs/b.md", "/docs/b.md")}
	report.Summary(docs, watcher.Stats{Documents: 2, Directories: 1, TotalEvents: 7, Dropped: 1})
	summary := out.String()
	assert.Contains(t, summary, "a.md")
	assert.Contains(t, summary, "b.md")
	assert.Contains(t, summary, "2 FILE(S)")
	assert.Contains(t, summary, "7 file event(s) in 1 director(ies), 1 dropped, 0 watch error(s)")
}
