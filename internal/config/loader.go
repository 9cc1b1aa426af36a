package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".livepdf"

// envPrefix is the environment variable prefix for livepdf settings.
const envPrefix = "LIVEPDF"

// Load loads configuration from defaults, a config file and environment
// variables. If path is non-empty it is used as the config file; otherwise
// .livepdf.{toml,yaml,yml} is searched in the working directory and $HOME.
// A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// applyDefaults registers every key so AutomaticEnv can override it.
func applyDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("render.debounce", d.Render.Debounce)
	v.SetDefault("render.command", d.Render.Command)
	v.SetDefault("render.timeout", d.Render.Timeout)
	v.SetDefault("render.input_ext", d.Render.InputExt)
	v.SetDefault("render.max_processes", d.Render.MaxProcesses)
	v.SetDefault("render.capture_limit", d.Render.CaptureLimit)

	v.SetDefault("artifacts.dir", d.Artifacts.Dir)
	v.SetDefault("artifacts.retention", d.Artifacts.Retention)
	v.SetDefault("artifacts.keep", d.Artifacts.Keep)
	v.SetDefault("artifacts.sweep_interval", d.Artifacts.SweepInterval)

	v.SetDefault("scroll.base_bias", d.Scroll.BaseBias)
	v.SetDefault("scroll.gamma", d.Scroll.Gamma)
	v.SetDefault("scroll.snap_epsilon", d.Scroll.SnapEpsilon)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
}
