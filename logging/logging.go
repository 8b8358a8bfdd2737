// Package logging builds the slog loggers used by the prettycode commands.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the log file.
const (
	maxLogSizeMB  = 10
	maxLogBackups = 3
	maxLogAgeDays = 28
)

// Options selects the log level and destination.
type Options struct {
	// Stderr receives log output; defaults to os.Stderr.
	Stderr  io.Writer
	// File, when set, is teed with Stderr and rotated by size.
	File    string
	Verbose bool
}

func (o Options) level() slog.Level {
	if o.Verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// New creates a text logger writing to stderr, and to Options.File when set.
// The returned cleanup closes the log file.
func New(opts Options) (*slog.Logger, func(), error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	if opts.File == "" {
		return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: opts.level()})), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
	}

	w := io.MultiWriter(stderr, rotator)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: opts.level()})), func() { rotator.Close() }, nil
}

// nopHandler is a slog.Handler that discards all output.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }

var nop = slog.New(nopHandler{})

// Nop returns a logger that discards everything. Library packages use it
// when no logger is configured.
func Nop() *slog.Logger {
	return nop
}

// OrNop returns l, or the discarding logger when l is nil.
func OrNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return nop
	}
	return l
}
