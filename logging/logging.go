// Package logging builds the process logger: JSON for production, tint
// for a colored console.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config selects level, format and destination.
type Config struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"` // stdout, stderr or a file path
	AddSource bool   `yaml:"add_source"`
}

// Default logs info and above as JSON to stdout.
func Default() Config {
	return Config{Level: "info", Format: FormatJSON, Output: "stdout"}
}

// New builds a logger. The returned close func releases the output file,
// if any.
func New(cfg Config) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w       io.Writer
		closeFn = func() error { return nil }
	)
	switch cfg.Output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open %s: %w", cfg.Output, err)
		}
		w, closeFn = f, f.Close
	}

	h, err := handler(w, cfg.Format, level, cfg.AddSource)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return slog.New(h), closeFn, nil
}

func handler(w io.Writer, format string, level slog.Level, addSource bool) (slog.Handler, error) {
	switch format {
	case "", FormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, AddSource: addSource}), nil
	case FormatConsole:
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  addSource,
			TimeFormat: time.TimeOnly,
			NoColor:    w != os.Stdout && w != os.Stderr,
		}), nil
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}
}

// ParseLevel maps debug, info, warn and error. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging: unknown level %q", s)
	}
}
