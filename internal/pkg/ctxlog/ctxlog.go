// Package ctxlog carries the request-scoped logger through contexts,
// including into background tasks started by a request.
package ctxlog

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// FromContext returns the logger stored in ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// With extends the context logger with args and returns both the derived
// context and the logger.
func With(ctx context.Context, args ...any) (context.Context, *slog.Logger) {
	logger := FromContext(ctx).With(args...)
	return WithLogger(ctx, logger), logger
}

// Inherit copies the logger of parent into ctx. Only the logger moves over;
// ctx keeps its own deadline and cancellation.
func Inherit(ctx, parent context.Context) context.Context {
	if logger, ok := parent.Value(ctxKey{}).(*slog.Logger); ok {
		return WithLogger(ctx, logger)
	}
	return ctx
}
