package log

import (
	"context"
	"log/slog"
	"net/http"
)

type ContextKey string

const LoggerContextKey ContextKey = "logger"

func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext returns the request logger, or one built on slog.Default.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{Logger: slog.Default(), component: "unknown"}
}

// StructuredLogger provides the recurring log lines of the application.
type StructuredLogger struct {
	logger *Logger
}

func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

// LogHTTPEnd logs a completed request at a level derived from the status.
func (sl *StructuredLogger) LogHTTPEnd(ctx context.Context, r *http.Request, statusCode int, durationMs int64, clientIP string) {
	level := slog.LevelInfo
	if statusCode >= 500 {
		level = slog.LevelError
	} else if statusCode >= 400 {
		level = slog.LevelWarn
	}
	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")).
		WithHTTPResponse(statusCode, durationMs).
		WithClientIP(clientIP)
	sl.logger.Log(ctx, level, "HTTP request completed", fields.ToSlice()...)
}

// LogTableMutation logs an applied table change and whether it was persisted.
func (sl *StructuredLogger) LogTableMutation(ctx context.Context, op, ownerID, tableID string, revision int64, persistErr error) {
	fields := NewFields().
		WithOperation(op).
		WithOwner(ownerID).
		WithTable(tableID, "", revision)
	if persistErr != nil {
		sl.logger.WarnContext(ctx, "Table change kept locally, persist failed",
			fields.WithError(persistErr).WithErrorType(ErrorTypeDatabase).ToSlice()...)
		return
	}
	sl.logger.InfoContext(ctx, "Table change persisted", fields.ToSlice()...)
}
