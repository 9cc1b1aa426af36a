// Package config loads livepdf settings from defaults, an optional TOML or
// YAML file and LIVEPDF_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dshills/livepdf/internal/artifact"
	"github.com/dshills/livepdf/internal/compile"
	"github.com/dshills/livepdf/internal/logging"
	"github.com/dshills/livepdf/internal/render"
	"github.com/dshills/livepdf/internal/scroll"
)

// Sentinel validation errors.
var (
	ErrInvalidDebounce  = errors.New("render debounce must be positive")
	ErrInvalidTimeout   = errors.New("render timeout must not be negative")
	ErrEmptyCommand     = errors.New("render command must not be empty")
	ErrInvalidRetention = errors.New("artifact retention must not be negative")
	ErrInvalidKeep      = errors.New("artifact keep count must not be negative")
	ErrInvalidInterval  = errors.New("artifact sweep interval must be positive")
	ErrInvalidCapture   = errors.New("render capture limit must be a positive size")
	ErrInvalidBias      = scroll.ErrInvalidBias
	ErrInvalidGamma     = scroll.ErrInvalidGamma
	ErrInvalidEpsilon   = scroll.ErrInvalidEpsilon
	ErrInvalidFormat    = errors.New("logging format must be console or json")
)

// Config is the top-level configuration.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Render    RenderConfig    `mapstructure:"render"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Scroll    ScrollConfig    `mapstructure:"scroll"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// RenderConfig holds render coordinator and renderer settings.
type RenderConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	Command  string        `mapstructure:"command"`
	Timeout  time.Duration `mapstructure:"timeout"`
	InputExt string        `mapstructure:"input_ext"`
	// MaxProcesses caps concurrent render commands across documents.
	MaxProcesses int `mapstructure:"max_processes"`
	// CaptureLimit bounds the command output kept per stream, e.g. "64 KiB".
	CaptureLimit string `mapstructure:"capture_limit"`
}

// ArtifactsConfig holds artifact retention settings.
type ArtifactsConfig struct {
	Dir           string        `mapstructure:"dir"`
	Retention     time.Duration `mapstructure:"retention"`
	Keep          int           `mapstructure:"keep"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// ScrollConfig holds the scroll mapping curve.
type ScrollConfig struct {
	BaseBias    float64 `mapstructure:"base_bias"`
	Gamma       float64 `mapstructure:"gamma"`
	SnapEpsilon float64 `mapstructure:"snap_epsilon"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// MetricsConfig holds the metrics endpoint settings. An empty Addr
// disables the endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	art := artifact.DefaultConfig()
	sc := scroll.DefaultConfig()
	lc := logging.DefaultConfig()
	return Config{
		Render: RenderConfig{
			Debounce:     render.DefaultDebounce,
			Command:      compile.DefaultCommand,
			Timeout:      compile.DefaultTimeout,
			InputExt:     compile.DefaultInputExt,
			CaptureLimit: humanize.IBytes(compile.DefaultCaptureLimit),
		},
		Artifacts: ArtifactsConfig{
			Dir:           art.Dir,
			Retention:     art.Retention,
			Keep:          art.Keep,
			SweepInterval: artifact.DefaultSweepInterval,
		},
		Scroll: ScrollConfig{
			BaseBias:    sc.BaseBias,
			Gamma:       sc.Gamma,
			SnapEpsilon: sc.SnapEpsilon,
		},
		Logging: LoggingConfig{
			Level:      strings.ToLower(lc.Level.String()),
			Format:     lc.Format,
			MaxSizeMB:  lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
		},
	}
}

// Validate checks all sections.
func (c *Config) Validate() error {
	if c.Render.Debounce <= 0 {
		return ErrInvalidDebounce
	}
	if c.Render.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if strings.TrimSpace(c.Render.Command) == "" {
		return ErrEmptyCommand
	}
	if _, err := c.captureLimit(); err != nil {
		return err
	}
	if c.Artifacts.Retention < 0 {
		return ErrInvalidRetention
	}
	if c.Artifacts.Keep < 0 {
		return ErrInvalidKeep
	}
	if c.Artifacts.SweepInterval <= 0 {
		return ErrInvalidInterval
	}
	if err := c.ScrollConfig().Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFormat, c.Logging.Format)
	}
	return nil
}

// ArtifactConfig converts the artifacts section.
func (c *Config) ArtifactConfig() artifact.Config {
	return artifact.Config{
		Dir:       expandHome(c.Artifacts.Dir),
		Retention: c.Artifacts.Retention,
		Keep:      c.Artifacts.Keep,
	}
}

// CompileConfig converts the render section for the command renderer.
func (c *Config) CompileConfig() compile.Config {
	return compile.Config{
		Command:  c.Render.Command,
		Timeout:  c.Render.Timeout,
		InputExt: c.Render.InputExt,
	}
}

// CaptureLimitBytes returns the render capture limit in bytes.
func (c *Config) CaptureLimitBytes() int {
	n, err := c.captureLimit()
	if err != nil {
		return compile.DefaultCaptureLimit
	}
	return n
}

func (c *Config) captureLimit() (int, error) {
	if strings.TrimSpace(c.Render.CaptureLimit) == "" {
		return compile.DefaultCaptureLimit, nil
	}
	n, err := humanize.ParseBytes(c.Render.CaptureLimit)
	if err != nil || n == 0 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCapture, c.Render.CaptureLimit)
	}
	return int(n), nil
}

// ScrollConfig converts the scroll section.
func (c *Config) ScrollConfig() scroll.Config {
	return scroll.Config{
		BaseBias:    c.Scroll.BaseBias,
		Gamma:       c.Scroll.Gamma,
		SnapEpsilon: c.Scroll.SnapEpsilon,
	}
}

// LoggingConfig converts the logging section.
func (c *Config) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(c.Logging.Level)
	if c.Logging.Format != "" {
		lc.Format = strings.ToLower(c.Logging.Format)
	}
	lc.File = expandHome(c.Logging.File)
	if c.Logging.MaxSizeMB > 0 {
		lc.MaxSizeMB = c.Logging.MaxSizeMB
	}
	if c.Logging.MaxBackups > 0 {
		lc.MaxBackups = c.Logging.MaxBackups
	}
	return lc
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
