package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnknownEncoding is returned by Encode for unsupported formats.
var ErrUnknownEncoding = errors.New("unknown config encoding")

// fileView is the on-disk layout. Durations are written in their
// string form so the output can be loaded back.
type fileView struct {
	Render struct {
		Debounce     string `toml:"debounce" yaml:"debounce"`
		Command      string `toml:"command" yaml:"command"`
		Timeout      string `toml:"timeout" yaml:"timeout"`
		InputExt     string `toml:"input_ext" yaml:"input_ext"`
		MaxProcesses int    `toml:"max_processes" yaml:"max_processes"`
		CaptureLimit string `toml:"capture_limit" yaml:"capture_limit"`
	} `toml:"render" yaml:"render"`
	Artifacts struct {
		Dir           string `toml:"dir" yaml:"dir"`
		Retention     string `toml:"retention" yaml:"retention"`
		Keep          int    `toml:"keep" yaml:"keep"`
		SweepInterval string `toml:"sweep_interval" yaml:"sweep_interval"`
	} `toml:"artifacts" yaml:"artifacts"`
	Scroll struct {
		BaseBias    float64 `toml:"base_bias" yaml:"base_bias"`
		Gamma       float64 `toml:"gamma" yaml:"gamma"`
		SnapEpsilon float64 `toml:"snap_epsilon" yaml:"snap_epsilon"`
	} `toml:"scroll" yaml:"scroll"`
	Logging struct {
		Level      string `toml:"level" yaml:"level"`
		Format     string `toml:"format" yaml:"format"`
		File       string `toml:"file" yaml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	} `toml:"logging" yaml:"logging"`
	Metrics struct {
		Addr string `toml:"addr" yaml:"addr"`
	} `toml:"metrics" yaml:"metrics"`
}

func newFileView(c *Config) fileView {
	var f fileView
	f.Render.Debounce = c.Render.Debounce.String()
	f.Render.Command = c.Render.Command
	f.Render.Timeout = c.Render.Timeout.String()
	f.Render.InputExt = c.Render.InputExt
	f.Render.MaxProcesses = c.Render.MaxProcesses
	f.Render.CaptureLimit = c.Render.CaptureLimit
	f.Artifacts.Dir = c.Artifacts.Dir
	f.Artifacts.Retention = c.Artifacts.Retention.String()
	f.Artifacts.Keep = c.Artifacts.Keep
	f.Artifacts.SweepInterval = c.Artifacts.SweepInterval.String()
	f.Scroll.BaseBias = c.Scroll.BaseBias
	f.Scroll.Gamma = c.Scroll.Gamma
	f.Scroll.SnapEpsilon = c.Scroll.SnapEpsilon
	f.Logging.Level = c.Logging.Level
	f.Logging.Format = c.Logging.Format
	f.Logging.File = c.Logging.File
	f.Logging.MaxSizeMB = c.Logging.MaxSizeMB
	f.Logging.MaxBackups = c.Logging.MaxBackups
	f.Metrics.Addr = c.Metrics.Addr
	return f
}

// Encode renders c as "toml" or "yaml".
func Encode(c *Config, format string) ([]byte, error) {
	view := newFileView(c)
	switch strings.ToLower(format) {
	case "toml":
		out, err := toml.Marshal(view)
		if err != nil {
			return nil, fmt.Errorf("encode toml: %w", err)
		}
		return out, nil
	case "yaml", "yml":
		out, err := yaml.Marshal(view)
		if err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, format)
	}
}
