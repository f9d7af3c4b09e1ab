package core

import (
	"context"
	"log"
	"os"
	"sync"
)

// StandardLogger is a minimal structured logger backed by the standard
// library's log package. Each call prints one line via log.Printf: the
// level, the message, then the field map (with level and component added),
// leaving richer presentation to whatever consumes the process's stderr.
type StandardLogger struct {
	mu        sync.Mutex
	component string
	out       *log.Logger
}

// NewStandardLogger returns a StandardLogger writing to stderr.
func NewStandardLogger() *StandardLogger {
	return &StandardLogger{out: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)}
}

func (l *StandardLogger) WithComponent(component string) Logger {
	return &StandardLogger{component: component, out: l.out}
}

func (l *StandardLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		entry[k] = v
	}
	entry["level"] = level
	if l.component != "" {
		entry["component"] = l.component
	}
	l.out.Printf("%s %s %v", level, msg, entry)
}

func (l *StandardLogger) Info(msg string, fields map[string]interface{})  { l.log("info", msg, fields) }
func (l *StandardLogger) Error(msg string, fields map[string]interface{}) { l.log("error", msg, fields) }
func (l *StandardLogger) Warn(msg string, fields map[string]interface{})  { l.log("warn", msg, fields) }
func (l *StandardLogger) Debug(msg string, fields map[string]interface{}) { l.log("debug", msg, fields) }

func (l *StandardLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Info(msg, withRequestID(ctx, fields))
}
func (l *StandardLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Error(msg, withRequestID(ctx, fields))
}
func (l *StandardLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Warn(msg, withRequestID(ctx, fields))
}
func (l *StandardLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Debug(msg, withRequestID(ctx, fields))
}

type requestIDKey struct{}

// WithRequestID attaches a request/run id to a context for correlation in
// logs emitted via the *WithContext methods.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func withRequestID(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	id, _ := ctx.Value(requestIDKey{}).(string)
	if id == "" {
		return fields
	}
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["requestId"] = id
	return out
}
