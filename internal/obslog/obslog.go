// Package obslog provides the structured-logging convention used across
// bytefold: a *slog.Logger derived from context, falling back to a package
// default, the way the teacher's toolkit/log package wires loggers through
// context rather than a package-global.
package obslog

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// WithLogger returns a context carrying l, retrievable with FromContext.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or slog.Default() if none
// was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// Op returns a logger with an "op" attribute set, for use at the start of an
// operation (open, audit, normalize, ...).
func Op(ctx context.Context, op string) *slog.Logger {
	return FromContext(ctx).With(slog.String("op", op))
}
