// Package orchestrator implements the Retry/Fallback Orchestrator §4.5:
// given a failure kind, it decides whether the session retries the
// current provider, advances to the next fallback factory, or terminates.
// The loop shape (attempt counter, context-aware sleep between attempts,
// a capped absolute retry count) is grounded on resilience.Retry; the
// classification style (pattern-matching an error's text into a
// retry-or-failover verdict) is grounded on ai/chain_client.go's
// isClientError.
package orchestrator

import (
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/l0run/l0/errs"
)

// Policy mirrors the data model's RetryPolicy: attempts bounds how many
// retries (after the first try) are made against the current provider
// before falling back;
// maxRetries is an absolute cap across the whole session regardless of
// fallback boundaries (0 means unset); retryOn is an opt-in allow-list of
// kinds that may ever be retried (empty means nothing retries — a caller
// must name the kinds it wants retried); errorTypeDelays overrides the
// computed backoff delay for specific kinds.
type Policy struct {
	Attempts        int
	MaxRetries      int
	Backoff         string
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	RetryOn         []errs.Kind
	ErrorTypeDelays map[errs.Kind]time.Duration
}

func (p Policy) retryOnSet() map[errs.Kind]bool {
	set := make(map[errs.Kind]bool, len(p.RetryOn))
	for _, k := range p.RetryOn {
		set[k] = true
	}
	return set
}

// Decision is the orchestrator's verdict for one failure.
type Decision string

const (
	DecisionRetry    Decision = "retry"
	DecisionFallback Decision = "fallback"
	DecisionTerminal Decision = "terminal"
)

// Outcome carries the verdict plus the bookkeeping a caller needs to emit
// the corresponding observability event and drive the next attempt.
type Outcome struct {
	Decision      Decision
	Delay         time.Duration
	AttemptInFallback int
	TotalRetries  int
	FallbackIndex int
}

// Orchestrator holds one session's retry/fallback bookkeeping. It is not
// safe for concurrent use — the session runtime drives it from a single
// goroutine per the cooperative scheduling model.
type Orchestrator struct {
	policy            Policy
	fallbackCount     int
	backoff           backoff.BackOff
	attemptInFallback int
	totalRetries      int
	fallbackIndex     int
	retryOn           map[errs.Kind]bool
}

// New constructs an Orchestrator. fallbackCount is the number of fallback
// factories configured (including the primary), so 1 means no fallback is
// available.
func New(policy Policy, fallbackCount int) *Orchestrator {
	if fallbackCount < 1 {
		fallbackCount = 1
	}
	return &Orchestrator{
		policy:        policy,
		fallbackCount: fallbackCount,
		backoff:       newBackOff(policy.Backoff, policy.BaseDelay, policy.MaxDelay),
		retryOn:       policy.retryOnSet(),
	}
}

// Decide evaluates a failure of the given kind. recoverable reflects
// either the error kind's own nature or, for guardrail_violation, the
// specific violation's Recoverable flag — a fatal (non-recoverable)
// guardrail violation always bypasses retry, matching stopOnFatal.
func (o *Orchestrator) Decide(kind errs.Kind, recoverable bool) Outcome {
	if errs.IsTerminal(kind) {
		return Outcome{Decision: DecisionTerminal, FallbackIndex: o.fallbackIndex}
	}

	eligible := recoverable && errs.IsRetryable(kind) && o.retryOn[kind]
	if eligible {
		withinAttempts := o.policy.Attempts <= 0 || o.attemptInFallback < o.policy.Attempts
		withinCap := o.policy.MaxRetries <= 0 || o.totalRetries < o.policy.MaxRetries
		if withinAttempts && withinCap {
			o.attemptInFallback++
			o.totalRetries++
			return Outcome{
				Decision:          DecisionRetry,
				Delay:             o.computeDelay(kind),
				AttemptInFallback: o.attemptInFallback,
				TotalRetries:      o.totalRetries,
				FallbackIndex:     o.fallbackIndex,
			}
		}
	}

	if o.fallbackIndex+1 < o.fallbackCount {
		o.fallbackIndex++
		o.attemptInFallback = 0
		o.backoff = newBackOff(o.policy.Backoff, o.policy.BaseDelay, o.policy.MaxDelay)
		return Outcome{Decision: DecisionFallback, FallbackIndex: o.fallbackIndex, TotalRetries: o.totalRetries}
	}

	return Outcome{Decision: DecisionTerminal, FallbackIndex: o.fallbackIndex, TotalRetries: o.totalRetries}
}

func (o *Orchestrator) computeDelay(kind errs.Kind) time.Duration {
	if d, ok := o.policy.ErrorTypeDelays[kind]; ok {
		return d
	}
	delay, err := o.backoff.NextBackOff()
	if err != nil {
		return o.policy.MaxDelay
	}
	if o.policy.MaxDelay > 0 && delay > o.policy.MaxDelay {
		return o.policy.MaxDelay
	}
	return delay
}

// TotalRetries reports the cumulative retry count across every fallback.
func (o *Orchestrator) TotalRetries() int { return o.totalRetries }

// FallbackIndex reports the zero-based index of the currently active
// fallback factory.
func (o *Orchestrator) FallbackIndex() int { return o.fallbackIndex }
