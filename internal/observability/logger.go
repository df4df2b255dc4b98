// Package observability provides structured logging for recodarr.
//
// Loggers are slog-based with JSON or text output. Credential-bearing
// attributes (passwords, tokens, keys) are masked before they reach any
// handler, and file output rotates with bounded size and archive count so
// long encode sessions never fill the disk with logs.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/masq"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jmylchreest/recodarr/internal/config"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey string

// RequestIDKey is the context key for request IDs.
const RequestIDKey contextKey = "request_id"

// loggerKey is the context key for the logger.
const loggerKey contextKey = "logger"

// Redacted is the placeholder rendered in place of sensitive values.
const Redacted = "[REDACTED]"

// sensitiveFieldNames are attribute keys whose values are always masked.
var sensitiveFieldNames = []string{
	"password", "secret", "token", "apikey", "api_key", "credential", "authorization",
}

// NewLogger creates a slog.Logger from the configuration. When cfg.File is
// set, output goes to a size-rotated file; otherwise to stdout.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	if cfg.File != "" {
		return NewLoggerWithWriter(cfg, NewRotatingWriter(cfg))
	}
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewRotatingWriter returns the rotating file writer used for file output.
// Rotation bounds are enforced even if the configuration leaves them zero.
func NewRotatingWriter(cfg config.LoggingConfig) io.Writer {
	maxSize := cfg.MaxSize.Megabytes()
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 5
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 30
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   cfg.Compress,
	}
}

// NewLoggerWithWriter creates a slog.Logger that writes to the provided
// writer. Useful for tests and custom destinations.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	redactOpts := make([]masq.Option, 0, 2*len(sensitiveFieldNames))
	for _, name := range sensitiveFieldNames {
		redactOpts = append(redactOpts,
			masq.WithFieldName(name),
			masq.WithFieldPrefix(name),
		)
	}
	redact := masq.New(redactOpts...)

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			if isSensitiveKey(a.Key) {
				return slog.String(a.Key, Redacted)
			}
			return redact(groups, a)
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, name := range sensitiveFieldNames {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent adds a component name identifying the log source.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithJob adds a job id to the logger.
func WithJob(logger *slog.Logger, jobID uint) *slog.Logger {
	return logger.With(slog.Uint64("job_id", uint64(jobID)))
}

// WithRequestID adds a request ID to the logger.
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With(slog.String("request_id", requestID))
}

// WithError adds an error to the logger attributes.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// LoggerFromContext extracts a logger from the context, falling back to the
// default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ContextWithLogger adds a logger to the context.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// RequestIDFromContext extracts a request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// SetDefault sets the provided logger as the process-wide slog default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// TimedOperation logs the start and end of an operation with duration.
// Returns a function to defer at the call site.
func TimedOperation(ctx context.Context, logger *slog.Logger, operation string) func() {
	start := time.Now()
	logger.DebugContext(ctx, "operation started", slog.String("operation", operation))

	return func() {
		logger.DebugContext(ctx, "operation completed",
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// TimedOperationWithError is like TimedOperation but inspects an error
// pointer when the deferred function runs, so failures logged at the end of
// the operation carry the error that was set after this call.
func TimedOperationWithError(ctx context.Context, logger *slog.Logger, operation string, errPtr *error) func() {
	start := time.Now()
	logger.DebugContext(ctx, "operation started", slog.String("operation", operation))

	return func() {
		duration := time.Since(start)
		if errPtr != nil && *errPtr != nil {
			logger.ErrorContext(ctx, "operation failed",
				slog.String("operation", operation),
				slog.Duration("duration", duration),
				slog.String("error", (*errPtr).Error()),
			)
			return
		}
		logger.DebugContext(ctx, "operation completed",
			slog.String("operation", operation),
			slog.Duration("duration", duration),
		)
	}
}
