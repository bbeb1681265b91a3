package l0

import (
	"context"
	"errors"
	"time"

	"github.com/l0run/l0/continuation"
	"github.com/l0run/l0/dispatcher"
	"github.com/l0run/l0/errs"
	"github.com/l0run/l0/events"
	"github.com/l0run/l0/guardrail"
	"github.com/l0run/l0/normalizer"
	"github.com/l0run/l0/orchestrator"
	"github.com/l0run/l0/registry"
	"github.com/l0run/l0/statemachine"
	"github.com/l0run/l0/telemetry"
)

// Run starts one session: it validates options, wires the normalizer,
// guardrail engine, state machine, retry/fallback orchestrator, and
// continuation engine together, and drives the attempt loop on a
// background goroutine. It returns immediately; the caller drains
// Handle.Stream and/or subscribes via the callbacks in Options to
// observe progress.
func Run(ctx context.Context, opts Options) (*Handle, error) {
	if opts.Stream == nil {
		return nil, errs.New("l0.run", errs.KindUnknown, "", errs.ErrMissingConfiguration)
	}

	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}

	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
		reg.SetLogger(logger)
	}

	retryPolicy := opts.Retry
	if retryPolicy.Attempts == 0 && retryPolicy.Backoff == "" {
		retryPolicy = DefaultRetryPolicy()
	}

	streamFactories := make([]StreamFactory, 0, 1+len(opts.FallbackStreams))
	streamFactories = append(streamFactories, opts.Stream)
	streamFactories = append(streamFactories, opts.FallbackStreams...)

	userCtx := opts.Context
	disp := dispatcher.New(userCtx.Clone(), userCtx, logger)
	if opts.OnEvent != nil {
		disp.OnEvent(opts.OnEvent)
	}

	sess := newSession(disp.GetStreamID())
	sm := statemachine.New()
	sm.Subscribe(func(t statemachine.Transition) { sess.setState(t.To) })

	guardCfg := guardrail.Config{
		Rules:               opts.Guardrails,
		StopOnFatal:         opts.StopOnFatal,
		CheckIntervalTokens: opts.CheckIntervals.Guardrails,
		Callbacks: guardrail.LifecycleCallbacks{
			OnPhaseStart: func(phase guardrail.Phase) {
				disp.Emit(events.TypeGuardrailPhaseStart, map[string]interface{}{"phase": string(phase)})
			},
			OnPhaseEnd: func(phase guardrail.Phase, violations []guardrail.Violation) {
				disp.Emit(events.TypeGuardrailPhaseEnd, map[string]interface{}{"phase": string(phase), "violations": len(violations)})
			},
			OnRuleStart: func(phase guardrail.Phase, rule string) {
				disp.Emit(events.TypeGuardrailRuleStart, map[string]interface{}{"phase": string(phase), "rule": rule})
			},
			OnRuleEnd: func(phase guardrail.Phase, rule string, violations []guardrail.Violation) {
				disp.Emit(events.TypeGuardrailRuleEnd, map[string]interface{}{"phase": string(phase), "rule": rule, "violations": len(violations)})
			},
		},
	}
	if opts.DetectDrift {
		guardCfg.Rules = append(guardCfg.Rules, guardrail.DriftRule{WindowWords: opts.CheckIntervals.Drift})
	}

	contEngine := continuation.New(opts.DeduplicationOptions, opts.CheckpointStore, opts.BuildContinuationPrompt)
	orch := orchestrator.New(retryPolicy.toPolicy(), len(streamFactories))

	dedupContinuation := opts.ContinueFromLastKnownGoodToken
	if opts.DeduplicateContinuation != nil {
		dedupContinuation = *opts.DeduplicateContinuation
	}

	runCtx, cancel := context.WithCancel(ctx)
	out := make(chan events.CanonicalEvent, 64)

	r := &runner{
		opts:              opts,
		reg:               reg,
		disp:              disp,
		sess:              sess,
		sm:                sm,
		guardCfg:          guardCfg,
		cont:              contEngine,
		orch:              orch,
		streamFactories:   streamFactories,
		out:               out,
		logger:            logger,
		dedupContinuation: dedupContinuation,
	}

	go r.drive(runCtx)

	return &Handle{
		Stream:    out,
		State:     sess.View,
		Telemetry: disp,
		Abort:     cancel,
	}, nil
}

// toPolicy adapts the public RetryPolicy to orchestrator.Policy.
func (p RetryPolicy) toPolicy() orchestrator.Policy {
	return orchestrator.Policy{
		Attempts:        p.Attempts,
		MaxRetries:      p.MaxRetries,
		Backoff:         p.Backoff,
		BaseDelay:       p.BaseDelay,
		MaxDelay:        p.MaxDelay,
		RetryOn:         p.RetryOn,
		ErrorTypeDelays: p.ErrorTypeDelays,
	}
}

// runner holds everything the attempt loop needs for exactly one
// session. It is only ever driven by a single goroutine (drive), so it
// carries no synchronization of its own beyond what its component
// fields (sess, sm, disp) already provide for external readers.
type runner struct {
	opts              Options
	reg               *registry.Registry
	disp              *dispatcher.Dispatcher
	sess              *Session
	sm                *statemachine.Machine
	guardCfg          guardrail.Config
	cont              *continuation.Engine
	orch              *orchestrator.Orchestrator
	streamFactories   []StreamFactory
	out               chan events.CanonicalEvent
	logger            telemetry.Logger
	dedupContinuation bool
}

func (r *runner) drive(ctx context.Context) {
	defer close(r.out)

	r.sm.Transition(statemachine.Init)
	r.disp.EmitSync(events.TypeSessionStart, map[string]interface{}{})

	prompt := r.opts.Prompt
	var resumePlan *continuation.Plan
	isRetry, isFallback := false, false
	var retryReason, fallbackReason string

	for {
		select {
		case <-ctx.Done():
			r.finishAbort()
			return
		default:
		}

		fallbackIdx := r.orch.FallbackIndex()
		factory := r.streamFactories[fallbackIdx]
		r.sess.setAttempt(r.orch.TotalRetries()+1, fallbackIdx)

		if isFallback {
			r.sm.Transition(statemachine.Fallback)
			r.disp.Emit(events.TypeFallbackStart, map[string]interface{}{"index": fallbackIdx - 1, "reason": fallbackReason})
			if r.opts.OnFallback != nil {
				r.opts.OnFallback(fallbackIdx-1, fallbackReason)
			}
		}
		if isRetry {
			r.sm.Transition(statemachine.Retrying)
			r.disp.Emit(events.TypeRetryAttempt, map[string]interface{}{"attempt": r.orch.TotalRetries(), "reason": retryReason})
			if r.opts.OnRetry != nil {
				r.opts.OnRetry(r.orch.TotalRetries(), retryReason)
			}
		}

		r.sm.Transition(statemachine.WaitingForToken)
		r.disp.Emit(events.TypeAttemptStart, map[string]interface{}{"attempt": r.orch.TotalRetries() + 1, "fallbackIndex": fallbackIdx})
		if r.opts.OnStart != nil {
			r.opts.OnStart(r.orch.TotalRetries()+1, isRetry, isFallback)
		}

		raw, err := factory(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				r.finishAbort()
				return
			}
			kind := orchestrator.Classify(err)
			outcome := r.orch.Decide(kind, true)
			r.emitError(err, outcome)
			switch outcome.Decision {
			case orchestrator.DecisionRetry:
				isRetry, isFallback = true, false
				retryReason = err.Error()
				r.sleep(ctx, outcome.Delay)
				continue
			case orchestrator.DecisionFallback:
				isRetry, isFallback = false, true
				fallbackReason = err.Error()
				continue
			default:
				r.finishError(err)
				return
			}
		}

		adapter, aerr := r.resolveAdapter(raw)
		if aerr != nil {
			r.finishError(aerr)
			return
		}

		var ge *guardrail.Engine
		var dedup *continuation.Deduplicator
		if resumePlan != nil {
			ge = guardrail.NewSeeded(r.guardCfg, resumePlan.Checkpoint.Content)
			if r.dedupContinuation {
				dedup = resumePlan.Dedup
			}
			r.disp.Emit(events.TypeResume, continuation.ResumePayload(resumePlan.Checkpoint))
			if r.opts.OnResume != nil {
				r.opts.OnResume(resumePlan.Checkpoint, resumePlan.Checkpoint.TokenCount)
			}
			r.sess.mu.Lock()
			r.sess.accumulatedContent, r.sess.tokenCount = resumePlan.Checkpoint.Content, resumePlan.Checkpoint.TokenCount
			r.sess.mu.Unlock()
			resumePlan = nil
		} else {
			ge = guardrail.New(r.guardCfg)
			r.sess.mu.Lock()
			r.sess.accumulatedContent, r.sess.tokenCount = "", 0
			r.sess.mu.Unlock()
		}

		r.sm.Transition(statemachine.Streaming)
		res, fatalOutcome, fatalHit := r.runAttempt(ctx, raw, adapter, ge, dedup)

		if res.Aborted && !fatalHit {
			r.finishAbort()
			return
		}

		if res.Completed && !fatalHit {
			post := ge.OnComplete(res.TokenCount)
			for _, v := range post.Violations {
				r.emitViolation(v)
			}

			if post.Failed {
				verr := errs.New("l0.guardrail", errs.KindGuardrailViolation, r.sess.id,
					errors.New(post.Violations[len(post.Violations)-1].Message))
				outcome := r.orch.Decide(errs.KindGuardrailViolation, post.Recoverable)
				r.emitError(verr, outcome)
				plan := r.tryPrepareResume(ctx, post.Violations)
				switch outcome.Decision {
				case orchestrator.DecisionRetry:
					isRetry, isFallback = true, false
					retryReason = verr.Error()
					resumePlan = plan
					prompt = r.nextPrompt(plan, prompt)
					r.sleep(ctx, outcome.Delay)
					continue
				case orchestrator.DecisionFallback:
					isRetry, isFallback = false, true
					fallbackReason = verr.Error()
					resumePlan = plan
					prompt = r.nextPrompt(plan, prompt)
					continue
				default:
					r.finishError(verr)
					return
				}
			}

			if r.opts.DetectZeroTokens && res.TokenCount == 0 {
				zerr := errs.New("l0.zero_output", errs.KindZeroOutput, r.sess.id, errors.New("stream completed with zero tokens"))
				outcome := r.orch.Decide(errs.KindZeroOutput, true)
				r.emitError(zerr, outcome)
				switch outcome.Decision {
				case orchestrator.DecisionRetry:
					isRetry, isFallback = true, false
					retryReason = zerr.Error()
					r.sleep(ctx, outcome.Delay)
					continue
				case orchestrator.DecisionFallback:
					isRetry, isFallback = false, true
					fallbackReason = zerr.Error()
					continue
				default:
					r.finishError(zerr)
					return
				}
			}

			r.finishComplete(res)
			return
		}

		kind := errs.KindStreamError
		recoverable := true
		var failErr error
		if res.Err != nil {
			kind = res.Err.Kind
			failErr = res.Err
		}
		var plan *continuation.Plan
		if fatalHit {
			kind = errs.KindGuardrailViolation
			recoverable = false
			failErr = errs.New("l0.guardrail", errs.KindGuardrailViolation, r.sess.id,
				errors.New(fatalOutcome.Violations[len(fatalOutcome.Violations)-1].Message))
		} else {
			plan = r.tryPrepareResume(ctx, fatalOutcome.Violations)
		}

		outcome := r.orch.Decide(kind, recoverable)
		r.emitError(failErr, outcome)
		switch outcome.Decision {
		case orchestrator.DecisionRetry:
			isRetry, isFallback = true, false
			retryReason = failErr.Error()
			resumePlan = plan
			prompt = r.nextPrompt(plan, prompt)
			r.sleep(ctx, outcome.Delay)
			continue
		case orchestrator.DecisionFallback:
			isRetry, isFallback = false, true
			fallbackReason = failErr.Error()
			resumePlan = plan
			prompt = r.nextPrompt(plan, prompt)
			continue
		default:
			r.finishError(failErr)
			return
		}
	}
}

// runAttempt wraps one adapter stream in the normalizer and feeds every
// token through the guardrail engine and the continuation deduplicator
// (if resuming), forwarding canonical events downstream as they clear
// both. It returns early, with fatalHit set, the moment a fatal
// violation is produced, rather than waiting for the stream to finish.
func (r *runner) runAttempt(ctx context.Context, raw registry.RawStream, adapter registry.Adapter, ge *guardrail.Engine, dedup *continuation.Deduplicator) (normalizer.Result, guardrail.Outcome, bool) {
	iter := adapter.Wrap(raw, r.opts.AdapterOptions)

	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()

	var lastOutcome guardrail.Outcome
	fatalHit := false

	// forwardDelta runs one already-deduplicated chunk of text through the
	// guardrail engine, appends it to the session (the single source of
	// truth for accumulated content across attempts), and forwards it
	// downstream. Shared by the normal token path and the end-of-stream
	// dedup flush so a buffered-but-unresolved tail gets identical
	// treatment to a token that arrived normally.
	forwardDelta := func(delta string, ts time.Time) {
		tokenCount := r.sess.appendToken(delta)
		outcome := ge.OnToken(delta, tokenCount)
		if len(outcome.Violations) > 0 {
			lastOutcome = outcome
			for _, v := range outcome.Violations {
				r.emitViolation(v)
			}
			if outcome.Fatal {
				fatalHit = true
				cancelAttempt()
				return
			}
		}

		r.disp.Emit(events.TypeToken, map[string]interface{}{"length": len(delta)})
		select {
		case r.out <- events.Token(delta, ts):
		case <-attemptCtx.Done():
		}
	}

	n := &normalizer.Normalizer{
		Timeouts:           r.opts.Timeout,
		CheckpointInterval: r.opts.CheckIntervals.Checkpoint,
		OnCheckpoint: func(_ string, _ int) {
			// content/tokenCount are this attempt's own raw counters,
			// reset to zero on every attempt; the session's view already
			// reflects the true cross-attempt, post-dedup accumulation
			// (appendToken above runs before this fires), so the
			// checkpoint is built from that instead.
			view := r.sess.View()
			cp := continuation.Checkpoint{SessionID: r.sess.id, Content: view.AccumulatedContent, TokenCount: view.TokenCount, TakenAt: time.Now()}
			if err := r.cont.SaveCheckpoint(ctx, cp); err != nil {
				r.logger.Warn("checkpoint save failed", map[string]interface{}{"error": err.Error()})
			}
			r.sess.setCheckpoint(cp)
			r.disp.Emit(events.TypeCheckpoint, map[string]interface{}{"tokenCount": cp.TokenCount})
			if r.opts.OnCheckpoint != nil {
				r.opts.OnCheckpoint(cp, cp.TokenCount)
			}
		},
		OnEvent: func(evt events.CanonicalEvent) {
			if evt.Kind == events.KindMessage {
				select {
				case r.out <- evt:
				case <-attemptCtx.Done():
				}
				return
			}
			if evt.Kind != events.KindToken {
				// Complete/Error are reflected in the Result Run returns;
				// the attempt loop decides whether/when those surface to
				// the consumer (a retried error never should).
				return
			}

			delta := evt.Value
			if dedup != nil {
				delta = dedup.Filter(delta)
				if delta == "" {
					return
				}
			}

			forwardDelta(delta, evt.Timestamp)
		},
	}

	res := n.Run(attemptCtx, r.sess.id, iter)

	if dedup != nil && !fatalHit {
		if tail := dedup.Flush(); tail != "" {
			forwardDelta(tail, time.Now())
		}
	}

	return res, lastOutcome, fatalHit
}

func (r *runner) resolveAdapter(raw registry.RawStream) (registry.Adapter, error) {
	if r.opts.Adapter != nil {
		return r.opts.Adapter, nil
	}
	adapter, err := r.reg.Detect(raw)
	if err != nil {
		return nil, errs.New("l0.resolve_adapter", errs.KindUnknown, r.sess.id, err)
	}
	return adapter, nil
}

// tryPrepareResume is a no-op unless ContinueFromLastKnownGoodToken is
// set and a checkpoint exists; a vetoed or unavailable plan yields nil
// rather than an error, since falling back to a plain (non-resumed)
// retry is always safe.
func (r *runner) tryPrepareResume(ctx context.Context, violations []guardrail.Violation) *continuation.Plan {
	if !r.opts.ContinueFromLastKnownGoodToken {
		return nil
	}
	if r.sess.View().LastCheckpoint == nil {
		return nil
	}

	r.sm.Transition(statemachine.CheckpointVerifying)
	plan, err := r.cont.PrepareResume(ctx, r.sess.id, violations)
	if err != nil {
		r.logger.Warn("continuation resume unavailable", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if plan.Vetoed {
		r.logger.Warn("continuation vetoed by fatal violation", map[string]interface{}{"reason": plan.VetoReason})
		return nil
	}

	r.sm.Transition(statemachine.ContinuationMatching)
	return &plan
}

func (r *runner) nextPrompt(plan *continuation.Plan, current string) string {
	if plan == nil {
		return current
	}
	return plan.Prompt
}

func (r *runner) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (r *runner) emitError(err error, outcome orchestrator.Outcome) {
	willRetry := outcome.Decision == orchestrator.DecisionRetry
	willFallback := outcome.Decision == orchestrator.DecisionFallback
	r.disp.Emit(events.TypeError, map[string]interface{}{
		"error": err.Error(), "willRetry": willRetry, "willFallback": willFallback,
	})
	if r.opts.OnError != nil {
		r.opts.OnError(err, willRetry, willFallback)
	}
}

func (r *runner) emitViolation(v guardrail.Violation) {
	r.disp.Emit(events.TypeViolation, map[string]interface{}{
		"rule": v.Rule, "severity": string(v.Severity), "message": v.Message, "recoverable": v.Recoverable,
	})
	if r.opts.OnViolation != nil {
		r.opts.OnViolation(v)
	}
}

func (r *runner) finishComplete(res normalizer.Result) {
	r.sm.Transition(statemachine.Finalizing)
	r.sm.Transition(statemachine.Complete)
	r.out <- events.Complete(time.Now(), res.Usage)
	r.disp.EmitSync(events.TypeComplete, map[string]interface{}{"tokenCount": res.TokenCount})
	if r.opts.OnComplete != nil {
		r.opts.OnComplete(r.sess.View())
	}
}

func (r *runner) finishError(err error) {
	r.sess.setErr(err)
	r.sm.Transition(statemachine.Error)
	r.out <- events.Error(err, time.Now())
	r.disp.EmitSync(events.TypeError, map[string]interface{}{"error": err.Error(), "terminal": true})
	if r.opts.OnComplete != nil {
		r.opts.OnComplete(r.sess.View())
	}
}

func (r *runner) finishAbort() {
	view := r.sess.View()
	abortErr := errs.New("l0.abort", errs.KindAbort, r.sess.id, errs.ErrAborted)
	r.sess.setErr(abortErr)
	r.sm.Transition(statemachine.Error)
	r.out <- events.Error(abortErr, time.Now())
	r.disp.EmitSync(events.TypeAbort, map[string]interface{}{
		"tokenCount": view.TokenCount, "contentLength": len(view.AccumulatedContent),
	})
	if r.opts.OnAbort != nil {
		r.opts.OnAbort(view.TokenCount, len(view.AccumulatedContent))
	}
	if r.opts.OnComplete != nil {
		r.opts.OnComplete(r.sess.View())
	}
}
