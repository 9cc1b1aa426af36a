// Package logging provides the structured logger shared by the preview core.
//
// Logger keeps a small leveled API (Debug, Info, Warn, Error with key/value
// pairs) over a zap core. Output goes to stderr and, when a file is
// configured, to a size-rotated log file.
package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents the severity level of a log message.
type Level int

const (
	// LevelDebug is for detailed debugging information.
	LevelDebug Level = iota
	// LevelInfo is for general informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level. Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config configures the logger.
type Config struct {
	// Level is the minimum log level to output.
	Level Level
	// Format is "console" or "json".
	Format string
	// Output is where console logs are written. Defaults to os.Stderr.
	Output io.Writer
	// File, when set, receives JSON logs rotated by lumberjack.
	File string
	// MaxSizeMB is the rotation threshold for File.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     "console",
		Output:     os.Stderr,
		MaxSizeMB:  10,
		MaxBackups: 5,
	}
}

// Logger provides structured logging for the preview core.
type Logger struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
	close func() error
}

// New creates a logger with the given configuration.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var consoleEnc zapcore.Encoder
	if cfg.Format == "json" {
		consoleEnc = zapcore.NewJSONEncoder(encCfg)
	} else {
		consoleEnc = zapcore.NewConsoleEncoder(encCfg)
	}

	level := cfg.Level.zapLevel()
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(zapcore.AddSync(cfg.Output)), level),
	}

	closeFn := func() error { return nil }
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level))
		closeFn = rotator.Close
	}

	return FromZap(zap.New(zapcore.NewTee(cores...)), closeFn)
}

// FromZap wraps an existing zap logger. closeFn may be nil.
func FromZap(z *zap.Logger, closeFn func() error) *Logger {
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return &Logger{base: z, sugar: z.Sugar(), close: closeFn}
}

// Nop returns a logger that discards all output.
func Nop() *Logger {
	return FromZap(zap.NewNop(), nil)
}

// WithField returns a new logger with the given field added.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{base: l.base, sugar: l.sugar.With(key, value), close: l.close}
}

// WithComponent returns a new logger with the component field set.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithField("component", component)
}

// Debug logs a debug message with alternating key/value pairs.
func (l *Logger) Debug(msg string, kv ...any) { l.sugar.Debugw(msg, kv...) }

// Info logs an info message with alternating key/value pairs.
func (l *Logger) Info(msg string, kv ...any) { l.sugar.Infow(msg, kv...) }

// Warn logs a warning message with alternating key/value pairs.
func (l *Logger) Warn(msg string, kv ...any) { l.sugar.Warnw(msg, kv...) }

// Error logs an error message with alternating key/value pairs.
func (l *Logger) Error(msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }

// Sync flushes buffered entries and closes the rotating file, if any.
func (l *Logger) Sync() error {
	_ = l.base.Sync()
	return l.close()
}
