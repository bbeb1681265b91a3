package continuation

import (
	"context"
	"fmt"

	"github.com/l0run/l0/errs"
	"github.com/l0run/l0/guardrail"
)

// PromptBuilder turns a checkpoint into the prompt handed to the next
// attempt so it continues rather than restarts. Callers may override this
// (spec's buildContinuationPrompt hook); DefaultPromptBuilder is used
// otherwise.
type PromptBuilder func(cp Checkpoint) string

// DefaultPromptBuilder asks the model to continue verbatim from the
// checkpointed content without repeating it.
func DefaultPromptBuilder(cp Checkpoint) string {
	return fmt.Sprintf(
		"Continue the response below exactly where it left off. Do not repeat any of the text already written; produce only the continuation.\n\n%s",
		cp.Content,
	)
}

// Plan is what PrepareResume hands back to the session runtime: either a
// hard veto (a fatal guardrail violation against the checkpoint) or a
// ready-to-use prompt, checkpoint, and overlap deduplicator.
type Plan struct {
	Vetoed     bool
	VetoReason string
	Checkpoint Checkpoint
	Prompt     string
	Dedup      *Deduplicator
}

// Engine coordinates checkpoint storage and resume preparation for one
// runtime configuration; it is safe to share across sessions since it
// holds no per-session state itself.
type Engine struct {
	cfg           DedupConfig
	store         Store
	promptBuilder PromptBuilder
}

// New constructs an Engine. A nil store defaults to an in-memory one; a
// nil promptBuilder defaults to DefaultPromptBuilder.
func New(cfg DedupConfig, store Store, promptBuilder PromptBuilder) *Engine {
	if store == nil {
		store = NewMemoryCheckpointStore()
	}
	if promptBuilder == nil {
		promptBuilder = DefaultPromptBuilder
	}
	return &Engine{cfg: cfg, store: store, promptBuilder: promptBuilder}
}

// SaveCheckpoint persists the latest snapshot for a session.
func (e *Engine) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	return e.store.Save(ctx, cp)
}

// CheckResumable inspects the checkpoint-time violations for a fatal,
// non-recoverable one: that is a hard veto on resuming at all, not merely
// a cause for retry. Any other severity does not block resume.
func CheckResumable(violations []guardrail.Violation) (bool, string) {
	for _, v := range violations {
		if v.Severity == guardrail.SeverityFatal {
			return false, v.Message
		}
	}
	return true, ""
}

// PrepareResume loads the session's last checkpoint, applies the
// guardrail veto, and if clear builds the continuation prompt and a fresh
// Deduplicator seeded on that checkpoint's trailing content.
func (e *Engine) PrepareResume(ctx context.Context, sessionID string, lastViolations []guardrail.Violation) (Plan, error) {
	cp, ok, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return Plan{}, err
	}
	if !ok {
		return Plan{}, errs.New("continuation.prepare_resume", errs.KindUnknown, sessionID, errs.ErrCheckpointUnavailable)
	}

	if resumable, reason := CheckResumable(lastViolations); !resumable {
		return Plan{Vetoed: true, VetoReason: reason, Checkpoint: cp}, nil
	}

	return Plan{
		Checkpoint: cp,
		Prompt:     e.promptBuilder(cp),
		Dedup:      NewDeduplicator(e.cfg, cp.Content),
	}, nil
}

// ResumePayload builds the observability-event payload for a resume,
// carrying the continuedFromCheckpoint marker. The marker appears only in
// this payload; no checkpoint content is re-emitted as tokens.
func ResumePayload(cp Checkpoint) map[string]interface{} {
	return map[string]interface{}{
		"checkpointTokenCount":   cp.TokenCount,
		"checkpointTakenAt":      cp.TakenAt,
		"continuedFromCheckpoint": true,
	}
}
