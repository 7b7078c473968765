// Package observability wires up structured logging and distributed tracing
// for the consumer, grounded on the teacher's logger.go/tracing.go pair.
package observability

import (
	"log/slog"
	"os"

	"github.com/senzing-garage/go-sb-consumer/internal/config"
)

// SetupLogger configures a JSON slog logger whose level follows
// SENZING_LOG_LEVEL (spec.md §6).
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelFor(cfg.LogLevel)}
	h := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(h).With(slog.String("queue", cfg.QueueName))
}

// levelFor maps the Python-originated level vocabulary
// (notset/debug/info/warning/error/fatal/critical) onto slog's levels.
// fatal/critical have no slog equivalent and are treated as Error.
func levelFor(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warning":
		return slog.LevelWarn
	case "error", "fatal", "critical":
		return slog.LevelError
	case "notset", "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}
