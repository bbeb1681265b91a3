package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// streamIDKey is the context key under which the active session's
// streamId is stashed so log lines can be correlated with a session
// without every call site threading it through explicitly.
type streamIDKey struct{}

// WithStreamID returns a context carrying streamId for log correlation.
func WithStreamID(ctx context.Context, streamID string) context.Context {
	return context.WithValue(ctx, streamIDKey{}, streamID)
}

// StructuredLogger is a self-contained JSON-or-text structured logger.
// Configuration priority: explicit constructor args, then environment
// variables (L0_LOG_LEVEL, L0_LOG_FORMAT, L0_DEBUG), then defaults.
type StructuredLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer
	mu          sync.RWMutex

	errorLimiter *RateLimiter
}

var (
	structuredLogger     *StructuredLogger
	structuredLoggerOnce sync.Once
)

// NewStructuredLogger returns the process-wide singleton logger for
// serviceName, creating it on first call.
func NewStructuredLogger(serviceName string) *StructuredLogger {
	structuredLoggerOnce.Do(func() {
		structuredLogger = createStructuredLogger(serviceName)
	})
	return structuredLogger
}

func createStructuredLogger(serviceName string) *StructuredLogger {
	level := os.Getenv("L0_LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}

	debug := os.Getenv("L0_DEBUG") == "true" || strings.ToUpper(level) == "DEBUG"

	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if envFormat := os.Getenv("L0_LOG_FORMAT"); envFormat != "" {
		format = envFormat
	}

	return &StructuredLogger{
		level:        strings.ToUpper(level),
		debug:        debug,
		serviceName:  serviceName,
		format:       format,
		output:       os.Stdout,
		errorLimiter: NewRateLimiter(1 * time.Second),
	}
}

func (l *StructuredLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

func (l *StructuredLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

func (l *StructuredLogger) Error(msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

func (l *StructuredLogger) Debug(msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

func (l *StructuredLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("INFO", msg, withStreamID(ctx, fields))
}

func (l *StructuredLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, withStreamID(ctx, fields))
}

func (l *StructuredLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("WARN", msg, withStreamID(ctx, fields))
}

func (l *StructuredLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, withStreamID(ctx, fields))
}

func withStreamID(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	id, _ := ctx.Value(streamIDKey{}).(string)
	if id == "" {
		return fields
	}
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["streamId"] = id
	return out
}

// componentLogger scopes a StructuredLogger under a fixed component tag.
type componentLogger struct {
	*StructuredLogger
	component string
}

func (l *StructuredLogger) WithComponent(component string) Logger {
	return &componentLogger{StructuredLogger: l, component: component}
}

func (c *componentLogger) Info(msg string, fields map[string]interface{}) {
	c.StructuredLogger.log("INFO", msg, c.tag(fields))
}
func (c *componentLogger) Warn(msg string, fields map[string]interface{}) {
	c.StructuredLogger.log("WARN", msg, c.tag(fields))
}
func (c *componentLogger) Error(msg string, fields map[string]interface{}) {
	if c.StructuredLogger.errorLimiter != nil && !c.StructuredLogger.errorLimiter.Allow() {
		return
	}
	c.StructuredLogger.log("ERROR", msg, c.tag(fields))
}
func (c *componentLogger) Debug(msg string, fields map[string]interface{}) {
	if !c.StructuredLogger.debug {
		return
	}
	c.StructuredLogger.log("DEBUG", msg, c.tag(fields))
}
func (c *componentLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	c.Info(msg, withStreamID(ctx, fields))
}
func (c *componentLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	c.Error(msg, withStreamID(ctx, fields))
}
func (c *componentLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	c.Warn(msg, withStreamID(ctx, fields))
}
func (c *componentLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	c.Debug(msg, withStreamID(ctx, fields))
}

func (c *componentLogger) tag(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["component"] = c.component
	return out
}

func (l *StructuredLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.shouldLog(level) {
		return
	}

	timestamp := time.Now().Format(time.RFC3339)

	if l.format == "json" {
		l.logJSON(timestamp, level, msg, fields)
	} else {
		l.logText(timestamp, level, msg, fields)
	}
}

func (l *StructuredLogger) logJSON(timestamp, level, msg string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"timestamp": timestamp,
		"level":     level,
		"service":   l.serviceName,
		"message":   msg,
	}
	for k, v := range fields {
		if k != "timestamp" && k != "level" && k != "service" && k != "message" {
			entry[k] = v
		}
	}
	if data, err := json.Marshal(entry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

func (l *StructuredLogger) logText(timestamp, level, msg string, fields map[string]interface{}) {
	var b strings.Builder
	if len(fields) > 0 {
		b.WriteString(" ")
		if sid, ok := fields["streamId"]; ok {
			fmt.Fprintf(&b, "streamId=%v ", sid)
		}
		if cmp, ok := fields["component"]; ok {
			fmt.Fprintf(&b, "component=%v ", cmp)
		}
		if err, ok := fields["error"]; ok {
			fmt.Fprintf(&b, "error=%q ", fmt.Sprintf("%v", err))
		}
		for k, v := range fields {
			if k == "streamId" || k == "component" || k == "error" {
				continue
			}
			fmt.Fprintf(&b, "%s=%v ", k, v)
		}
	}
	fmt.Fprintf(l.output, "%s [%s] [%s] %s%s\n", timestamp, level, l.serviceName, msg, b.String())
}

func (l *StructuredLogger) shouldLog(level string) bool {
	levels := map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}
	cur, ok1 := levels[l.level]
	msg, ok2 := levels[level]
	if !ok1 || !ok2 {
		return true
	}
	return msg >= cur
}

// SetLevel dynamically updates the log level.
func (l *StructuredLogger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = strings.ToUpper(level)
	l.debug = l.level == "DEBUG"
}

func (l *StructuredLogger) SetFormat(format string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = format
}

func (l *StructuredLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// GetLogger returns the process-wide logger, creating a default
// "l0"-named instance if none was constructed yet.
func GetLogger() *StructuredLogger {
	structuredLoggerOnce.Do(func() {
		structuredLogger = createStructuredLogger("l0")
	})
	return structuredLogger
}
