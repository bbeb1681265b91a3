package telemetry

import "context"

// Logger is the structured-logging interface every runtime component
// depends on. StructuredLogger is the default implementation; callers may
// substitute their own.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger extends Logger with a component tag, following the
// convention "session/<streamId>", "orchestrator", "guardrail", etc.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// Telemetry is the optional tracing/metrics sink. NoOpTelemetry is its
// do-nothing implementation. Run does not call a Telemetry itself.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents one unit of traced work: one session, or one attempt
// within a session.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpLogger discards everything. It is the default when no Logger is
// configured.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}

func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

func (NoOpLogger) WithComponent(string) Logger { return NoOpLogger{} }

// NoOpTelemetry discards spans and metrics. It is the default when no
// Telemetry is configured.
type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noOpSpan{}
}

func (NoOpTelemetry) RecordMetric(string, float64, map[string]string) {}

type noOpSpan struct{}

func (noOpSpan) End()                             {}
func (noOpSpan) SetAttribute(string, interface{}) {}
func (noOpSpan) RecordError(error)                {}
