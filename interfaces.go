// Package l0 implements a streaming-LLM reliability runtime: retries,
// fallback, guardrails, and checkpoint-based continuation layered over an
// arbitrary streaming adapter.
package l0

import "github.com/l0run/l0/telemetry"

// Re-exported ambient interfaces, following the teacher's framework.go
// re-export convention: callers of package l0 never need to import
// l0/telemetry directly for the common case.
type (
	Logger               = telemetry.Logger
	ComponentAwareLogger = telemetry.ComponentAwareLogger
	Telemetry            = telemetry.Telemetry
	Span                 = telemetry.Span
)

var (
	NoOpLogger    = telemetry.NoOpLogger{}
	NoOpTelemetry = telemetry.NoOpTelemetry{}
)
