// Package logctx carries a request-scoped zap logger on a context so work
// started by an HTTP request logs with that request's fields.
package logctx

import (
	"context"

	"go.uber.org/zap"
)

type key struct{}

// With returns a copy of ctx carrying logger.
func With(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, key{}, logger)
}

// From returns the logger stored on ctx, or fallback when there is none.
func From(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(key{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}
