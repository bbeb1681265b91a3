// Package continuation implements the Continuation Engine §4.6: it owns
// periodic checkpoint storage, vets a checkpoint against guardrails
// before resuming, re-emits a synthetic continuation prompt, and
// deduplicates the overlap produced when a resumed stream repeats part of
// the last checkpointed content.
package continuation

import "time"

// Checkpoint is a content-prefix snapshot taken every checkpointInterval
// tokens by the session runtime.
type Checkpoint struct {
	SessionID  string
	Content    string
	TokenCount int
	TakenAt    time.Time
}
