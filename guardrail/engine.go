package guardrail

// Phase identifies pre-completion vs post-completion guardrail runs.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// LifecycleCallbacks lets the session runtime observe guardrail phase/rule
// boundaries to emit the corresponding observability events
// (guardrail_phase_start/end, guardrail_rule_start/end).
type LifecycleCallbacks struct {
	OnPhaseStart func(phase Phase)
	OnPhaseEnd   func(phase Phase, violations []Violation)
	OnRuleStart  func(phase Phase, rule string)
	OnRuleEnd    func(phase Phase, rule string, violations []Violation)
}

// Config configures one Engine instance for one session.
type Config struct {
	Rules       []Rule
	StopOnFatal bool
	// CheckIntervalTokens gates how often incremental (pre) checks run,
	// in tokens since the last check.
	CheckIntervalTokens int
	Callbacks           LifecycleCallbacks
}

// Outcome summarizes one Run call.
type Outcome struct {
	Violations []Violation
	Fatal      bool
	// Failed is true when an `error`-severity violation was produced at
	// completion; Recoverable reflects whether that failure is eligible
	// for retry.
	Failed      bool
	Recoverable bool
}

// Engine runs a fixed rule set against one session's streaming content.
type Engine struct {
	cfg          Config
	states       map[string]RuleState
	tokensSince  int
	accumulated  string
	consumed     map[string]int // per rule: len(accumulated) at its last evaluation
}

// New constructs an Engine for one session. The per-rule incremental
// state is created here, scoped to this Engine instance (i.e. this
// session) — never shared with another session even when the same *Rule
// value is reused.
func New(cfg Config) *Engine {
	states := make(map[string]RuleState, len(cfg.Rules))
	for _, r := range cfg.Rules {
		states[r.Name()] = r.NewState()
	}
	return &Engine{cfg: cfg, states: states}
}

// NewSeeded constructs an Engine whose accumulated content already
// contains seed — used when a session resumes from a checkpoint so rule
// states evaluate against the full prior content, not just the new
// attempt's tokens.
func NewSeeded(cfg Config, seed string) *Engine {
	e := New(cfg)
	e.accumulated = seed
	return e
}

// OnToken accumulates content and, once the delta since the last check
// crosses CheckIntervalTokens, runs streaming-enabled rules with
// completed=false. It returns the outcome of that run, or a zero Outcome
// if no check fired this call.
func (e *Engine) OnToken(delta string, tokenCount int) Outcome {
	e.accumulated += delta
	e.tokensSince++

	interval := e.cfg.CheckIntervalTokens
	if interval <= 0 {
		interval = 1
	}
	if e.tokensSince < interval {
		return Outcome{}
	}
	e.tokensSince = 0

	return e.run(PhasePre, tokenCount, false)
}

// OnComplete runs every rule with completed=true and classifies the
// aggregate outcome.
func (e *Engine) OnComplete(tokenCount int) Outcome {
	return e.run(PhasePost, tokenCount, true)
}

func (e *Engine) run(phase Phase, tokenCount int, completed bool) Outcome {
	if e.consumed == nil {
		e.consumed = make(map[string]int, len(e.cfg.Rules))
	}
	if e.cfg.Callbacks.OnPhaseStart != nil {
		e.cfg.Callbacks.OnPhaseStart(phase)
	}

	var all []Violation
	fatal := false

	for _, r := range e.cfg.Rules {
		if !completed && !r.Streaming() {
			continue
		}
		if e.cfg.Callbacks.OnRuleStart != nil {
			e.cfg.Callbacks.OnRuleStart(phase, r.Name())
		}

		state := e.states[r.Name()]
		ctx := Context{
			Content:            e.accumulated,
			Delta:              e.accumulated[e.consumed[r.Name()]:],
			TokenCount:         tokenCount,
			Completed:          completed,
			PreviousViolations: all,
		}
		vs := state.Evaluate(ctx)
		e.consumed[r.Name()] = len(e.accumulated)
		for i := range vs {
			if vs[i].Severity == "" {
				vs[i].Severity = SeverityError
			}
		}

		if e.cfg.Callbacks.OnRuleEnd != nil {
			e.cfg.Callbacks.OnRuleEnd(phase, r.Name(), vs)
		}

		all = append(all, vs...)

		for _, v := range vs {
			if v.Severity == SeverityFatal {
				fatal = true
			}
		}
		if fatal && e.cfg.StopOnFatal {
			break
		}
	}

	if e.cfg.Callbacks.OnPhaseEnd != nil {
		e.cfg.Callbacks.OnPhaseEnd(phase, all)
	}

	out := Outcome{Violations: all, Fatal: fatal}
	if completed {
		for _, v := range all {
			if v.Severity == SeverityError {
				out.Failed = true
				out.Recoverable = v.Recoverable
			}
		}
		if fatal {
			out.Failed = true
			out.Recoverable = false
		}
	}
	return out
}
