package l0

import (
	"context"

	"github.com/l0run/l0/continuation"
	"github.com/l0run/l0/dispatcher"
	"github.com/l0run/l0/events"
	"github.com/l0run/l0/guardrail"
	"github.com/l0run/l0/normalizer"
	"github.com/l0run/l0/registry"
	"github.com/l0run/l0/telemetry"
)

// Timeouts aliases normalizer.Timeouts at the public API surface so
// callers of Run never need to import the normalizer package directly.
type Timeouts = normalizer.Timeouts

// StreamFactory opens one provider-specific raw stream for one attempt.
// prompt is either the caller's original prompt (first attempt) or the
// continuation-built prompt (resumed attempt after a checkpoint).
type StreamFactory func(ctx context.Context, prompt string) (registry.RawStream, error)

// CheckIntervals overrides periodic streaming settings. Guardrails and
// Checkpoint are cadences in tokens. Drift is not a cadence: it sets the
// drift rule's window size in words (the drift rule, when enabled, runs at
// the Guardrails cadence like every other streaming rule).
type CheckIntervals struct {
	Guardrails int
	Drift      int
	Checkpoint int
}

// Options configures one call to Run. Stream is required; everything else
// falls back to the documented defaults. An adapter must also be
// reachable: with neither Adapter nor Registry set, Run auto-detects
// against a new, empty registry, so every attempt fails adapter
// resolution.
type Options struct {
	Stream          StreamFactory
	Prompt          string
	Adapter         registry.Adapter
	AdapterOptions  map[string]interface{}
	FallbackStreams []StreamFactory
	Registry        *registry.Registry

	Retry   RetryPolicy
	Timeout Timeouts

	Guardrails  []guardrail.Rule
	StopOnFatal bool

	CheckIntervals CheckIntervals

	DetectZeroTokens bool
	DetectDrift      bool

	ContinueFromLastKnownGoodToken bool
	BuildContinuationPrompt        continuation.PromptBuilder
	// DeduplicateContinuation enables overlap stripping on a resumed
	// attempt's leading tokens against the checkpoint's tail. Defaults to
	// true whenever ContinueFromLastKnownGoodToken is set, matching the
	// spec's documented default for that case; pass a non-nil false to
	// see the raw, possibly-overlapping resumed output instead.
	DeduplicateContinuation *bool
	DeduplicationOptions    continuation.DedupConfig
	CheckpointStore         continuation.Store

	Context events.FrozenContext

	Monitoring telemetry.Telemetry
	Logger     telemetry.Logger

	OnStart      func(attempt int, isRetry, isFallback bool)
	OnComplete   func(state SessionView)
	OnRetry      func(attempt int, reason string)
	OnFallback   func(index int, reason string)
	OnError      func(err error, willRetry, willFallback bool)
	OnAbort      func(tokenCount, contentLength int)
	OnCheckpoint func(cp continuation.Checkpoint, tokenCount int)
	OnResume     func(cp continuation.Checkpoint, tokenCount int)
	OnViolation  func(v guardrail.Violation)
	OnEvent      func(events.ObservabilityEvent)
}

// Handle is what Run returns: the canonical-event stream the consumer
// iterates, a point-in-time state snapshot accessor, the session's
// telemetry dispatcher (for ad-hoc subscription beyond the typed
// callbacks), and an idempotent cancellation function.
type Handle struct {
	Stream    <-chan events.CanonicalEvent
	State     func() SessionView
	Telemetry *dispatcher.Dispatcher
	Abort     func()
}
