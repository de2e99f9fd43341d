// Package logging wraps log/slog with the output and level options used by
// the daemon and hands out per-component loggers.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config selects level, format and destination of log output.
type Config struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // text, json
	Output     string `yaml:"output"`      // stdout, stderr, file
	OutputPath string `yaml:"output_path"` // used when output is file
	AddSource  bool   `yaml:"add_source"`
}

// Logger is a structured logger bound to a Config.
type Logger struct {
	*slog.Logger
	config *Config
}

// NewLogger builds a logger from config, falling back to DefaultConfig.
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	handler, err := createHandler(config, parseLevel(config.Level))
	if err != nil {
		return nil, err
	}

	return &Logger{
		Logger: slog.New(handler),
		config: config,
	}, nil
}

// NewWithWriter builds a logger writing text to w. Used by tools that
// need to route logs around an interactive prompt.
func NewWithWriter(w io.Writer, level string) *Logger {
	cfg := &Config{Level: level, Format: "text", Output: "writer"}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Logger{Logger: slog.New(h), config: cfg}
}

func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "text",
		Output: "stderr",
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func createHandler(config *Config, level slog.Level) (slog.Handler, error) {
	var writer io.Writer

	switch strings.ToLower(config.Output) {
	case "stdout":
		writer = os.Stdout
	case "file":
		if config.OutputPath == "" {
			config.OutputPath = filepath.Join("logs", "screensync.log")
		}
		if err := os.MkdirAll(filepath.Dir(config.OutputPath), 0755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(config.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		writer = f
	default:
		writer = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	if strings.ToLower(config.Format) == "json" {
		return slog.NewJSONHandler(writer, opts), nil
	}
	return slog.NewTextHandler(writer, opts), nil
}

// With returns a logger carrying extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
	}
}

func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{
		Logger: l.Logger.WithGroup(name),
		config: l.config,
	}
}

// GetConfig returns the configuration the logger was built from.
func (l *Logger) GetConfig() *Config {
	return l.config
}
