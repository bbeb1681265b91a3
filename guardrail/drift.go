package guardrail

import (
	"strconv"
	"strings"
)

// DriftRule is a reference implementation of the optional drift-detection
// plug-in named in spec.md §9's open question: its exact signal is
// under-specified, so this ships one concrete, simple signal
// (immediate repetition of the same trailing phrase) behind the same
// Rule contract as any other guardrail. It is never registered by
// default — callers opt in by adding it to their rule list.
type DriftRule struct {
	// WindowWords is how many trailing words are compared against the
	// previous window for exact repetition.
	WindowWords int
}

func (d DriftRule) Name() string            { return "drift-repetition" }
func (d DriftRule) Streaming() bool         { return true }
func (d DriftRule) DefaultRecoverable() bool { return true }

func (d DriftRule) NewState() RuleState {
	window := d.WindowWords
	if window <= 0 {
		window = 6
	}
	return &driftState{window: window}
}

type driftState struct {
	window    int
	lastWords []string
}

func (s *driftState) Evaluate(ctx Context) []Violation {
	words := strings.Fields(ctx.Content)
	if len(words) < s.window*2 {
		return nil
	}

	tail := words[len(words)-s.window:]
	prev := words[len(words)-s.window*2 : len(words)-s.window]

	if equalWords(tail, prev) {
		return []Violation{{
			Rule:        "drift-repetition",
			Message:     "detected immediate repetition of a " + strconv.Itoa(s.window) + "-word phrase",
			Severity:    SeverityWarning,
			Recoverable: true,
		}}
	}
	return nil
}

func equalWords(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

