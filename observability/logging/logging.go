// Package logging configures structured JSON logging for the agent.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options tune the log pipeline beyond the defaults.
type Options struct {
	Level slog.Level
	// FilePath, when set, mirrors all log lines into a size-rotated file next
	// to stdout.
	FilePath    string
	FileMaxMB   int
	FileBackups int
}

// Option mutates Options.
type Option func(*Options)

// WithLevel sets the minimum level emitted.
func WithLevel(level slog.Level) Option {
	return func(o *Options) { o.Level = level }
}

// WithFile mirrors logs into a rotating file at path.
func WithFile(path string) Option {
	return func(o *Options) { o.FilePath = path }
}

// Setup configures the process-wide slog logger to emit structured JSON and
// returns it. Lines carry the service name and environment, and the standard
// library logger is bridged so dependencies keep working.
func Setup(service, env string, opts ...Option) *slog.Logger {
	options := Options{Level: slog.LevelInfo, FileMaxMB: 64, FileBackups: 4}
	for _, opt := range opts {
		opt(&options)
	}

	var sink io.Writer = os.Stdout
	if options.FilePath != "" {
		sink = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   options.FilePath,
			MaxSize:    options.FileMaxMB,
			MaxBackups: options.FileBackups,
			Compress:   true,
		})
	}

	handler := slog.NewJSONHandler(sink, &slog.HandlerOptions{
		Level: options.Level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
