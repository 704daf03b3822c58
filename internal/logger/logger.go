// Package logger builds the slog.Logger used by every bsort command.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

type options struct {
	level   slog.Level
	json    bool
	logFile string
	writer  io.Writer
}

// Option configures New.
type Option func(*options)

// WithLevel sets the minimum level.
func WithLevel(level slog.Level) Option {
	return func(o *options) { o.level = level }
}

// WithJSON switches console output from coloured text to JSON lines.
func WithJSON(enabled bool) Option {
	return func(o *options) { o.json = enabled }
}

// WithLogFile additionally writes JSON lines to a size-rotated file.
// An empty path disables file output.
func WithLogFile(path string) Option {
	return func(o *options) { o.logFile = path }
}

// WithWriter replaces stderr as the console destination.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// New returns a logger writing to stderr, and optionally to a rotated
// file. The returned func closes the log file and is always safe to call.
func New(opts ...Option) (*slog.Logger, func() error) {
	o := options{level: slog.LevelInfo, writer: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	var console slog.Handler
	if o.json {
		console = slog.NewJSONHandler(o.writer, &slog.HandlerOptions{Level: o.level})
	} else {
		console = tint.NewHandler(o.writer, &tint.Options{
			Level:      o.level,
			TimeFormat: time.Kitchen,
			NoColor:    !isTerminal(o.writer),
		})
	}

	if o.logFile == "" {
		return slog.New(console), func() error { return nil }
	}

	_ = os.MkdirAll(filepath.Dir(o.logFile), 0o755)
	rotator := &lumberjack.Logger{
		Filename:   o.logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	file := slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: o.level})

	return slog.New(fanout{console, file}), rotator.Close
}

// ParseLevel converts a config level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
