package slogx

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// WithContext stores log as the context's request logger.
func WithContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, log)
}

// FromContext returns the request logger, or the process default when the
// context carries none (background jobs, tests).
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}
