// Package logger provides the daemon's own structured diagnostic logging —
// startup, reload and restore reporting. Errors from connection handling,
// pipe ingestion and log-file writes are not passed to it. It is distinct from
// logwriter.Writer, which produces the client-facing, per-unit log files
// that are this daemon's actual product.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// Logger is the structured logger every component in this daemon logs through.
type Logger struct {
	slog *slog.Logger
}

// Option configures a Logger built by New.
type Option func(*options)

type options struct {
	debug  bool
	quiet  bool
	format string
	extra  []io.Writer
}

// WithDebug enables debug-level output.
func WithDebug() Option {
	return func(o *options) { o.debug = true }
}

// WithFormat selects the handler format: "text" (default) or "json".
func WithFormat(format string) Option {
	return func(o *options) { o.format = format }
}

// WithQuiet suppresses the stderr sink, useful for tests that only want to
// inspect a supplied writer.
func WithQuiet() Option {
	return func(o *options) { o.quiet = true }
}

// WithWriter adds an additional sink the log fans out to, e.g. a file
// handle inherited from a supervisor.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.extra = append(o.extra, w) }
}

// New builds a Logger from the given options.
func New(opts ...Option) Logger {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level, AddSource: true}

	var sinks []slog.Handler
	if !o.quiet {
		sinks = append(sinks, newHandler(os.Stderr, o.format, handlerOpts))
	}
	for _, w := range o.extra {
		sinks = append(sinks, newHandler(w, o.format, handlerOpts))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, newHandler(io.Discard, o.format, handlerOpts))
	}

	return Logger{slog: slog.New(slogmulti.Fanout(sinks...))}
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// With returns a Logger whose every record carries the given key/value
// pairs, e.g. a connection's correlation id.
func (l Logger) With(args ...any) Logger {
	return Logger{slog: l.slog.With(args...)}
}

func (l Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if !l.slog.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.slog.Handler().Handle(ctx, r)
}

func (l Logger) Debug(msg string, args ...any) { l.log(context.Background(), slog.LevelDebug, msg, args...) }
func (l Logger) Info(msg string, args ...any)  { l.log(context.Background(), slog.LevelInfo, msg, args...) }
func (l Logger) Warn(msg string, args ...any)  { l.log(context.Background(), slog.LevelWarn, msg, args...) }
func (l Logger) Error(msg string, args ...any) { l.log(context.Background(), slog.LevelError, msg, args...) }

func (l Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}
func (l Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}
func (l Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}
func (l Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}
