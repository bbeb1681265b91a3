// Package events defines the two wire types shared across the runtime: the
// canonical stream event produced by adapters and consumed by the
// normalizer/guardrail/continuation layers, and the observability event
// emitted by the dispatcher.
package events

import "time"

// CanonicalKind tags a CanonicalEvent's variant. The invariant from the
// data model holds: within one successful attempt the sequence is
// token* then exactly one Complete; Error is terminal for the attempt but
// not necessarily the session.
type CanonicalKind string

const (
	KindToken    CanonicalKind = "token"
	KindMessage  CanonicalKind = "message"
	KindComplete CanonicalKind = "complete"
	KindError    CanonicalKind = "error"
)

// Usage carries optional token-accounting data surfaced by an adapter on
// completion. The runtime never interprets it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CanonicalEvent is the tagged variant described in the data model. Only
// the fields relevant to Kind are populated; callers must switch on Kind
// rather than infer the variant from which fields are set.
type CanonicalEvent struct {
	Kind      CanonicalKind
	Value     string    // token text delta (Kind == KindToken), verbatim
	Role      string    // Kind == KindMessage
	Timestamp time.Time
	Usage     *Usage // Kind == KindComplete, optional
	Err       error  // Kind == KindError
}

func Token(value string, ts time.Time) CanonicalEvent {
	return CanonicalEvent{Kind: KindToken, Value: value, Timestamp: ts}
}

func Message(value, role string, ts time.Time) CanonicalEvent {
	return CanonicalEvent{Kind: KindMessage, Value: value, Role: role, Timestamp: ts}
}

func Complete(ts time.Time, usage *Usage) CanonicalEvent {
	return CanonicalEvent{Kind: KindComplete, Timestamp: ts, Usage: usage}
}

func Error(err error, ts time.Time) CanonicalEvent {
	return CanonicalEvent{Kind: KindError, Err: err, Timestamp: ts}
}

// ObservabilityType is the closed enum of observability event types from
// the data model.
type ObservabilityType string

const (
	TypeSessionStart    ObservabilityType = "session_start"
	TypeAttemptStart    ObservabilityType = "attempt_start"
	TypeRetryAttempt    ObservabilityType = "retry_attempt"
	TypeFallbackStart   ObservabilityType = "fallback_start"
	TypeToken           ObservabilityType = "token"
	TypeCheckpoint      ObservabilityType = "checkpoint"
	TypeViolation       ObservabilityType = "violation"
	TypeGuardrailPhaseStart ObservabilityType = "guardrail_phase_start"
	TypeGuardrailPhaseEnd  ObservabilityType = "guardrail_phase_end"
	TypeGuardrailRuleStart ObservabilityType = "guardrail_rule_start"
	TypeGuardrailRuleEnd   ObservabilityType = "guardrail_rule_end"
	TypeResume          ObservabilityType = "resume"
	TypeAbort           ObservabilityType = "abort"
	TypeError           ObservabilityType = "error"
	TypeComplete        ObservabilityType = "complete"
)

// FrozenContext is a caller-supplied user context mapping that must not be
// mutated after session start. Context is shared by reference across every
// event of a session (the events share the same underlying,
// conceptually-frozen map, never a copy).
type FrozenContext map[string]interface{}

// Clone returns a shallow copy. The runtime never mutates a FrozenContext
// after session start; Run uses Clone to give the dispatcher its own meta
// map, and callers may use it to get their own mutable copy.
func (c FrozenContext) Clone() FrozenContext {
	if c == nil {
		return nil
	}
	out := make(FrozenContext, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// ObservabilityEvent is a structured telemetry record. Payload carries
// type-specific fields; by contract payload keys must never collide with
// the four base fields (Type, Ts, StreamID, Context).
type ObservabilityEvent struct {
	Type      ObservabilityType
	Ts        time.Time
	StreamID  string
	Context   FrozenContext
	Payload   map[string]interface{}
}
