// Package logctx carries the run logger through context.Context.
//
// A run starts with WithRunID, which tags the logger with a fresh run_id.
// Deeper code enriches it with per-unit fields and extracts it with
// FromContext:
//
//	ctx, runID := logctx.WithRunID(ctx)
//	ctx = logctx.WithStr(ctx, "method", "sieve")
//	log := logctx.FromContext(ctx)
package logctx

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eunmann/primegen/pkg/logging"
)

// loggerKey is the private key type for storing loggers in context.
type loggerKey struct{}

// runIDKey is the private key type for the run id.
type runIDKey struct{}

// DefaultLogger returns the process logger configured by logging.Init. It is
// used when no context logger is available.
func DefaultLogger() zerolog.Logger {
	return *logging.L()
}

// WithLogger returns a new context with the given logger attached.
// The logger can be retrieved using FromContext.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext extracts the logger from the context. If the context is nil
// or does not contain a logger, returns the default logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return DefaultLogger()
	}
	if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return logger
	}
	return DefaultLogger()
}

// WithRunID assigns a new run id to ctx and tags its logger with run_id.
func WithRunID(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	ctx = context.WithValue(ctx, runIDKey{}, id)
	return WithStr(ctx, "run_id", id), id
}

// RunID returns the run id assigned by WithRunID, or "".
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// WithStr returns a new context with a logger that has the specified string field added.
func WithStr(ctx context.Context, key, value string) context.Context {
	logger := FromContext(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, logger)
}

// WithUint64 returns a new context with a logger that has the specified uint64 field added.
func WithUint64(ctx context.Context, key string, value uint64) context.Context {
	logger := FromContext(ctx).With().Uint64(key, value).Logger()
	return WithLogger(ctx, logger)
}
