// Package logging provides structured logging on top of logrus with
// request-scoped trace and user fields.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	// TraceIDKey carries the request trace ID.
	TraceIDKey contextKey = "trace_id"
	// UserIDKey carries the authenticated user ID.
	UserIDKey contextKey = "user_id"
	// RoleKey carries the authenticated role.
	RoleKey contextKey = "role"
)

// Logger wraps a logrus logger with the service name attached to every entry.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a logger. level is a logrus level name; format is "json" or "text".
func New(service, level, format string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.EqualFold(format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	return &Logger{Logger: l, service: service}
}

// NewFromEnv creates a logger using LOG_LEVEL and LOG_FORMAT.
func NewFromEnv(service string) *Logger {
	return New(service, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// Discard returns a logger that drops everything. Used when a component is
// constructed without a logger.
func Discard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{Logger: l, service: "discard"}
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *Logger) *Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// Service returns the configured service name.
func (l *Logger) Service() string {
	return l.service
}

// Component returns an entry tagged with a component name.
func (l *Logger) Component(name string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"service": l.service, "component": name})
}

// WithContext returns an entry carrying the trace and user IDs found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{"service": l.service}
	if traceID := GetTraceID(ctx); traceID != "" {
		fields["trace_id"] = traceID
	}
	if userID := GetUserID(ctx); userID != "" {
		fields["user_id"] = userID
	}
	return l.Logger.WithContext(ctx).WithFields(fields)
}

// LogRequest logs a completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	switch {
	case status >= 500:
		entry.Error("request failed")
	case status >= 400:
		entry.Warn("request rejected")
	default:
		entry.Info("request completed")
	}
}

// LogSecurityEvent logs authentication and abuse related events.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, details map[string]interface{}) {
	l.WithContext(ctx).WithField("security_event", event).WithFields(logrus.Fields(details)).Warn("security event")
}

// NewTraceID generates a trace ID.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores a trace ID in ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID returns the trace ID stored in ctx.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID stores the authenticated user ID in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID returns the user ID stored in ctx.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// GetRole returns the role stored in ctx.
func GetRole(ctx context.Context) string {
	if v, ok := ctx.Value(RoleKey).(string); ok {
		return v
	}
	return ""
}
