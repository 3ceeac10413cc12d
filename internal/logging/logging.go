// Package logging configures the process-wide slog logger: console
// output, rotated main and error log files, or any combination.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging settings.
type Config struct {
	Level    string         `yaml:"level"`  // debug, info, warn, error
	Format   string         `yaml:"format"` // text, json
	Dir      string         `yaml:"dir"`
	Rotation RotationConfig `yaml:"rotation"`
	Console  OutputConfig   `yaml:"console"`
	File     OutputConfig   `yaml:"file"`
}

// RotationConfig holds log rotation settings.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"` // MB
	MaxBackups int  `yaml:"max_backups"`
	MaxAge     int  `yaml:"max_age"` // days
	Compress   bool `yaml:"compress"`
}

// OutputConfig configures one log sink, optionally overriding the
// global level and format.
type OutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// DefaultConfig returns console-plus-file logging at info level.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "text",
		Dir:    "logs",
		Rotation: RotationConfig{
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
		Console: OutputConfig{Enabled: true},
		File:    OutputConfig{Enabled: true},
	}
}

// Validate checks level and format names.
func (c *Config) Validate() error {
	if _, ok := parseLevel(c.Level); !ok {
		return fmt.Errorf("invalid log level %q", c.Level)
	}
	if c.Format != "text" && c.Format != "json" {
		return fmt.Errorf("invalid log format %q", c.Format)
	}
	for _, out := range []OutputConfig{c.Console, c.File} {
		if out.Level != "" {
			if _, ok := parseLevel(out.Level); !ok {
				return fmt.Errorf("invalid log level %q", out.Level)
			}
		}
		if out.Format != "" && out.Format != "text" && out.Format != "json" {
			return fmt.Errorf("invalid log format %q", out.Format)
		}
	}
	return nil
}

var (
	logFilesMu sync.Mutex
	logFiles   []*lumberjack.Logger
)

// Initialize builds the logger and installs it as the slog default.
func Initialize(cfg Config) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	slog.Info("logging initialized",
		"level", cfg.Level,
		"format", cfg.Format,
		"console", cfg.Console.Enabled,
		"file", cfg.File.Enabled)
	return nil
}

// NewLogger builds a logger from the configuration. File sinks write a
// main log plus a warn-and-above errors log, both rotated.
func NewLogger(cfg Config) (*slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var handlers []slog.Handler

	if cfg.Console.Enabled {
		handlers = append(handlers, newHandler(os.Stdout, cfg, cfg.Console))
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		main := rotatedFile(cfg, filepath.Join(cfg.Dir, "courtside.log"))
		handlers = append(handlers, newHandler(main, cfg, cfg.File))

		errors := rotatedFile(cfg, filepath.Join(cfg.Dir, "errors.log"))
		errorHandler := newHandler(errors, cfg, OutputConfig{Level: "warn", Format: cfg.File.Format})
		handlers = append(handlers, NewLevelFilter(errorHandler, slog.LevelWarn))
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	case 1:
		return slog.New(handlers[0]), nil
	default:
		return slog.New(NewMultiHandler(handlers...)), nil
	}
}

// Shutdown closes every rotated log file.
func Shutdown() error {
	logFilesMu.Lock()
	defer logFilesMu.Unlock()
	for _, file := range logFiles {
		if err := file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
	}
	logFiles = nil
	return nil
}

func rotatedFile(cfg Config, path string) *lumberjack.Logger {
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.Rotation.MaxSize,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAge,
		Compress:   cfg.Rotation.Compress,
	}
	logFilesMu.Lock()
	logFiles = append(logFiles, file)
	logFilesMu.Unlock()
	return file
}

func newHandler(w io.Writer, cfg Config, out OutputConfig) slog.Handler {
	level, ok := parseLevel(out.Level)
	if !ok {
		level, _ = parseLevel(cfg.Level)
	}
	format := out.Format
	if format == "" {
		format = cfg.Format
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(level string) (slog.Level, bool) {
	switch level {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
