// Package guardrail implements the incremental content-validation engine:
// a rule set run at a configurable cadence and at completion, aggregating
// and classifying violations. The Violation shape is grounded on
// diagnyx-sdk's guardrails.Violation; the incremental-state-owned-by-the-
// engine design follows spec.md §9's redesign note rather than any
// closure-captured-mutable pattern in the pack.
package guardrail

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// Violation is one rule's finding against the current content.
type Violation struct {
	Rule        string
	Message     string
	Severity    Severity
	Recoverable bool
	Suggestion  string
	Position    *int // byte offset within Content, if meaningful
}

// Context is what a Rule evaluates against. Delta is the text appended
// to Content since the rule's previous evaluation by the same Engine; on
// its first evaluation Delta is all of Content (including any seed given
// to NewSeeded).
type Context struct {
	Content           string
	Delta             string
	TokenCount        int
	Completed         bool
	Metadata          map[string]interface{}
	PreviousViolations []Violation
}

// Rule is a named, severity-tagged content checker. Rules must be
// idempotent with respect to Content: repeated evaluation with the same
// Content returns an equivalent violation set. A Rule may keep internal
// state, but that state is created and owned by the Engine (one per rule
// per Engine), never by rule-level closures, so the same *Rule value can
// serve concurrent sessions.
type Rule interface {
	Name() string
	// Streaming reports whether this rule should run on incremental
	// (completed=false) checks, or only at completion.
	Streaming() bool
	// DefaultRecoverable reports the rule's default recoverability. The
	// Engine does not consult it: whether a failure is recoverable comes
	// only from the Recoverable field of each produced Violation.
	DefaultRecoverable() bool
	// NewState returns a fresh incremental-state holder for one session.
	// Stateless rules may return a state that holds nothing.
	NewState() RuleState
}

// RuleState is the per-session incremental state for one Rule. The Engine
// constructs one via Rule.NewState() per (session, rule) pair and never
// shares it across sessions.
type RuleState interface {
	// Evaluate consumes ctx and returns any new violations found. It must
	// treat ctx.Completed == true as final: no further Evaluate calls
	// follow for this state after a completed evaluation.
	Evaluate(ctx Context) []Violation
}
