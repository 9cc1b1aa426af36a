// Package commands implements the livepdf subcommands.
package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/dshills/livepdf/internal/app"
	"github.com/dshills/livepdf/internal/artifact"
	"github.com/dshills/livepdf/internal/compile"
	"github.com/dshills/livepdf/internal/config"
	"github.com/dshills/livepdf/internal/logging"
	"github.com/dshills/livepdf/internal/metrics"
	"github.com/dshills/livepdf/internal/scroll"
)

// shutdownTimeout bounds how long in-flight renders may finish on exit.
const shutdownTimeout = 5 * time.Second

// Globals holds the persistent root flags shared by every subcommand.
type Globals struct {
	ConfigPath string
	Verbose    bool
	NoColor    bool
}

func (g *Globals) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	if g.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func (g *Globals) applyColor() {
	if g.NoColor {
		color.NoColor = true //nolint:reassign // intentional override of library global
	}
}

// runtime is the fully wired preview stack built from a config.
type runtime struct {
	cfg       *config.Config
	log       *logging.Logger
	metrics   *metrics.Recorder
	artifacts *artifact.Manager
	renderer  *compile.CommandRenderer
	service   *app.Service
}

func newRuntime(cfg *config.Config, logOut io.Writer, listener app.Listener) (*runtime, error) {
	lc := cfg.LoggingConfig()
	if logOut != nil {
		lc.Output = logOut
	}
	log := logging.New(lc)
	rec := metrics.New()

	artifacts := artifact.NewManager(cfg.ArtifactConfig(),
		artifact.WithLogger(log),
		artifact.WithMetrics(rec),
	)

	supervisor := compile.NewSupervisor(
		compile.WithMaxProcesses(cfg.Render.MaxProcesses),
		compile.WithCaptureLimit(cfg.CaptureLimitBytes()),
	)
	renderer, err := compile.NewCommandRenderer(cfg.CompileConfig(),
		compile.WithLogger(log),
		compile.WithSupervisor(supervisor),
	)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("render command: %w", err)
	}

	mapper, err := scroll.NewMapper(cfg.ScrollConfig())
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("scroll mapping: %w", err)
	}

	svc := app.NewService(renderer, artifacts, mapper, listener,
		app.WithLogger(log),
		app.WithMetrics(rec),
		app.WithDebounce(cfg.Render.Debounce),
	)

	return &runtime{
		cfg:       cfg,
		log:       log,
		metrics:   rec,
		artifacts: artifacts,
		renderer:  renderer,
		service:   svc,
	}, nil
}

// Close stops the service, then any render process still running.
func (r *runtime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := r.service.Close(ctx)
	r.renderer.Supervisor().Shutdown(compile.DefaultGrace)
	_ = r.log.Sync()
	return err
}
