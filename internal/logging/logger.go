// Package logging provides structured logging configuration using log/slog.
//
// Loggers obtained through FromContext carry the upload ID of the chunked
// upload in progress and the X-Request-ID of the HTTP exchange being made,
// so every line for one upload can be correlated with the server's logs.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
//
// Console output goes to stderr so CLI results on stdout stay clean.
// When file is non-empty every record is also appended to it as JSON;
// the returned closer releases that file.
func Setup(level, format, file string) (io.Closer, error) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var console slog.Handler
	if strings.ToLower(format) == "json" {
		console = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		console = slog.NewTextHandler(os.Stderr, opts)
	}

	if file == "" {
		slog.SetDefault(slog.New(console))
		return nopCloser{}, nil
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	handler := slogmulti.Fanout(console, slog.NewJSONHandler(f, opts))
	slog.SetDefault(slog.New(handler))
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type uploadIDKey struct{}

// ContextWithUploadID tags ctx with the ID of a chunked upload.
func ContextWithUploadID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, uploadIDKey{}, id)
}

// UploadIDFromContext returns the upload ID stored by ContextWithUploadID.
func UploadIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(uploadIDKey{}).(string)
	return id
}

type requestIDKey struct{}

// ContextWithRequestID tags ctx with the X-Request-ID of one HTTP exchange.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the ID stored by ContextWithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// FromContext returns a logger enriched with upload and request context.
//
// Usage:
//
//	logger := logging.FromContext(ctx)
//	logger.Info("chunk uploaded", "chunk", name)
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if id := UploadIDFromContext(ctx); id != "" {
		logger = logger.With("upload_id", id)
	}

	if reqID := RequestIDFromContext(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}

	return logger
}

// WithFields returns a logger with additional structured fields.
//
// Usage:
//
//	uploadLogger := logging.WithFields(ctx,
//	    "campaign_id", campaignID,
//	    "station_id", stationID,
//	)
//	uploadLogger.Info("upload started")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
