// Package compile runs an external command that turns a document into a
// PDF, implementing render.Renderer.
//
// The command is a template. The placeholders {input} and {output} are
// replaced with the source file and the generation-scoped output path.
// Content handed over in memory is written to a scratch file next to the
// output first.
package compile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/dshills/livepdf/internal/logging"
	"github.com/dshills/livepdf/internal/render"
)

// Defaults for CommandRenderer.
const (
	DefaultCommand  = "pandoc {input} -o {output}"
	DefaultTimeout  = 2 * time.Minute
	DefaultInputExt = ".md"
	DefaultGrace    = 2 * time.Second
)

// Errors returned by the renderer.
var (
	ErrEmptyCommand = errors.New("empty render command")
	ErrNoOutput     = errors.New("render command produced no output")
	ErrCancelled    = errors.New("render cancelled")
	ErrTimeout      = errors.New("render timed out")
)

// Config configures a CommandRenderer.
type Config struct {
	// Command is the command template.
	Command string
	// Timeout bounds a single render. Zero disables the bound.
	Timeout time.Duration
	// InputExt is the extension for scratch input files.
	InputExt string
	// WorkDir is the command's working directory. Empty uses the source
	// file's directory, or the output directory for in-memory content.
	WorkDir string
}

// DefaultConfig returns the default renderer configuration.
func DefaultConfig() Config {
	return Config{
		Command:  DefaultCommand,
		Timeout:  DefaultTimeout,
		InputExt: DefaultInputExt,
	}
}

// CommandRenderer renders documents by running an external command.
type CommandRenderer struct {
	cfg        Config
	args       []string
	supervisor *Supervisor
	log        *logging.Logger
}

// Option configures a CommandRenderer.
type Option func(*CommandRenderer)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *CommandRenderer) {
		if l != nil {
			r.log = l
		}
	}
}

// WithSupervisor shares a process supervisor.
func WithSupervisor(s *Supervisor) Option {
	return func(r *CommandRenderer) {
		if s != nil {
			r.supervisor = s
		}
	}
}

// NewCommandRenderer parses the command template in cfg.
func NewCommandRenderer(cfg Config, opts ...Option) (*CommandRenderer, error) {
	args, err := SplitCommand(cfg.Command)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	if cfg.InputExt == "" {
		cfg.InputExt = DefaultInputExt
	}

	r := &CommandRenderer{
		cfg:  cfg,
		args: args,
		log:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.supervisor == nil {
		r.supervisor = NewSupervisor()
	}
	r.log = r.log.WithComponent("compile")
	return r, nil
}

// Supervisor returns the supervisor tracking render processes.
func (r *CommandRenderer) Supervisor() *Supervisor {
	return r.supervisor
}

// Render implements render.Renderer. A failed render never leaves a file
// at outputPath.
func (r *CommandRenderer) Render(ctx context.Context, req render.Request, outputPath string) (render.Output, error) {
	out, err := r.render(ctx, req, outputPath)
	if err != nil {
		if rmErr := os.Remove(outputPath); rmErr != nil && !os.IsNotExist(rmErr) {
			r.log.Warn("partial output not removed", "path", outputPath, "error", rmErr)
		}
		return render.Output{}, err
	}
	return out, nil
}

func (r *CommandRenderer) render(ctx context.Context, req render.Request, outputPath string) (render.Output, error) {
	input := req.SourcePath
	if input == "" {
		scratch, err := r.writeScratch(req, outputPath)
		if err != nil {
			return render.Output{}, err
		}
		defer os.Remove(scratch)
		input = scratch
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	args := r.expand(input, outputPath)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = r.workDir(req, outputPath)
	cmd.WaitDelay = DefaultGrace

	name := fmt.Sprintf("%s#%d", req.DocumentID, req.Generation)
	proc, err := r.supervisor.Start(name, cmd)
	if err != nil {
		return render.Output{}, err
	}
	r.log.Debug("render command started", "document", req.DocumentID, "generation", req.Generation, "command", args[0])

	select {
	case <-proc.Done():
	case <-ctx.Done():
		proc.Stop(DefaultGrace)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return render.Output{}, fmt.Errorf("%w after %s", ErrTimeout, r.cfg.Timeout)
		}
		return render.Output{}, ctx.Err()
	case <-req.Token.Done():
		proc.Stop(DefaultGrace)
		return render.Output{}, ErrCancelled
	}

	if err := proc.ExitError(); err != nil {
		return render.Output{}, commandFailure(proc, err)
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return render.Output{}, ErrNoOutput
	}

	heights, err := PageHeights(outputPath)
	if err != nil {
		// The artifact is still usable without geometry.
		r.log.Warn("page geometry unavailable", "path", outputPath, "error", err)
	}
	return render.Output{Path: outputPath, PageHeights: heights}, nil
}

func (r *CommandRenderer) writeScratch(req render.Request, outputPath string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(outputPath), filepath.Ext(outputPath))
	scratch := filepath.Join(filepath.Dir(outputPath), base+".src"+r.cfg.InputExt)
	if err := os.WriteFile(scratch, []byte(req.Content), 0o600); err != nil {
		return "", fmt.Errorf("write render input: %w", err)
	}
	return scratch, nil
}

func (r *CommandRenderer) expand(input, output string) []string {
	replacer := strings.NewReplacer("{input}", input, "{output}", output)
	args := make([]string, len(r.args))
	for i, a := range r.args {
		args[i] = replacer.Replace(a)
	}
	return args
}

func (r *CommandRenderer) workDir(req render.Request, outputPath string) string {
	switch {
	case r.cfg.WorkDir != "":
		return r.cfg.WorkDir
	case req.SourcePath != "":
		return filepath.Dir(req.SourcePath)
	default:
		return filepath.Dir(outputPath)
	}
}

// commandFailure builds the failure reason from the command's stderr,
// falling back to the exit status.
func commandFailure(proc *Process, err error) error {
	reason := lastLines(proc.Stderr(), 5)
	if reason == "" {
		return fmt.Errorf("%s: %w", proc.Cmd.Path, err)
	}
	return fmt.Errorf("%s (%w)", reason, err)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// SplitCommand splits a command template into arguments with shell
// quoting rules. Environment variables and backquotes are not expanded,
// and the template runs without a shell, so pipes and redirections need
// an explicit "sh -c".
func SplitCommand(s string) ([]string, error) {
	args, err := shellwords.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", s, err)
	}
	return args, nil
}
