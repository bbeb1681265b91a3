package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/l0run/l0/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basePolicy() Policy {
	return Policy{
		Attempts:  2,
		Backoff:   "fixed",
		BaseDelay: time.Millisecond,
		MaxDelay:  10 * time.Millisecond,
		RetryOn:   []errs.Kind{errs.KindNetworkError, errs.KindZeroOutput},
	}
}

func TestKindNotInRetryOnNeverRetries(t *testing.T) {
	o := New(basePolicy(), 1)
	out := o.Decide(errs.KindMalformed, true)
	assert.Equal(t, DecisionTerminal, out.Decision, "a kind absent from retryOn must never retry, even when recoverable")
}

func TestNilRetryOnRetriesNothing(t *testing.T) {
	o := New(Policy{Attempts: 2, Backoff: "fixed", BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, 1)
	out := o.Decide(errs.KindNetworkError, true)
	assert.Equal(t, DecisionTerminal, out.Decision, "the documented retryOn=[] default must retry nothing, not everything")
}

func TestRetryWithinAttemptsThenFallback(t *testing.T) {
	o := New(basePolicy(), 2)

	out1 := o.Decide(errs.KindNetworkError, true)
	require.Equal(t, DecisionRetry, out1.Decision)
	assert.Equal(t, 1, out1.AttemptInFallback)

	out2 := o.Decide(errs.KindNetworkError, true)
	require.Equal(t, DecisionRetry, out2.Decision)
	assert.Equal(t, 2, out2.AttemptInFallback)

	// Attempts exhausted for this fallback; a fallback factory remains.
	out3 := o.Decide(errs.KindNetworkError, true)
	require.Equal(t, DecisionFallback, out3.Decision)
	assert.Equal(t, 1, out3.FallbackIndex)

	// No fallback left now; exhausting this one's attempts goes terminal.
	o.Decide(errs.KindNetworkError, true)
	o.Decide(errs.KindNetworkError, true)
	out5 := o.Decide(errs.KindNetworkError, true)
	require.Equal(t, DecisionTerminal, out5.Decision)
}

func TestAbortBypassesRetryAndFallback(t *testing.T) {
	o := New(basePolicy(), 3)
	out := o.Decide(errs.KindAbort, true)
	assert.Equal(t, DecisionTerminal, out.Decision)
	assert.Equal(t, 0, o.TotalRetries())
}

func TestNonRecoverableSkipsRetryGoesToFallback(t *testing.T) {
	o := New(basePolicy(), 2)
	out := o.Decide(errs.KindGuardrailViolation, false)
	assert.Equal(t, DecisionFallback, out.Decision)
	assert.Equal(t, 0, o.TotalRetries())
}

func TestRetryOnGatingExcludesKind(t *testing.T) {
	p := basePolicy()
	p.RetryOn = []errs.Kind{errs.KindNetworkError}
	o := New(p, 1)

	out := o.Decide(errs.KindMalformed, true)
	assert.Equal(t, DecisionTerminal, out.Decision)
}

func TestMaxRetriesCapWinsOverAttempts(t *testing.T) {
	p := basePolicy()
	p.Attempts = 10
	p.MaxRetries = 1
	o := New(p, 1)

	out1 := o.Decide(errs.KindNetworkError, true)
	require.Equal(t, DecisionRetry, out1.Decision)

	out2 := o.Decide(errs.KindNetworkError, true)
	assert.Equal(t, DecisionTerminal, out2.Decision)
}

func TestErrorTypeDelayOverridesBackoff(t *testing.T) {
	p := basePolicy()
	p.ErrorTypeDelays = map[errs.Kind]time.Duration{errs.KindZeroOutput: 7 * time.Millisecond}
	o := New(p, 1)

	out := o.Decide(errs.KindZeroOutput, true)
	require.Equal(t, DecisionRetry, out.Decision)
	assert.Equal(t, 7*time.Millisecond, out.Delay)
}

func TestClassifyFallsBackToRuntimeErrorKind(t *testing.T) {
	re := errs.New("op", errs.KindMalformed, "s1", errors.New("bad"))
	assert.Equal(t, errs.KindMalformed, Classify(re))
}

func TestClassifyPatternMatchesPlainError(t *testing.T) {
	assert.Equal(t, errs.KindMalformed, Classify(errors.New("bad request: invalid parameter")))
	assert.Equal(t, errs.KindNetworkError, Classify(errors.New("connection reset by peer")))
}
