package orchestrator

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// newBackOff builds the delay-computation strategy named by strategy,
// grounded on resilience.RetryConfig's fixed/exponential/jitter shape but
// delegating the actual interval math to backoff/v5 rather than
// reimplementing exponential-with-jitter by hand. "fixed-jitter" is built
// from ExponentialBackOff with Multiplier 1 (no growth) and a
// randomization factor, since backoff.ConstantBackOff has no jitter knob.
func newBackOff(strategy string, base, max time.Duration) backoff.BackOff {
	switch strategy {
	case "fixed":
		return backoff.NewConstantBackOff(base)
	case "fixed-jitter":
		return backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(base),
			backoff.WithMultiplier(1.0),
			backoff.WithRandomizationFactor(0.3),
			backoff.WithMaxInterval(max),
		)
	case "exponential":
		return backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(base),
			backoff.WithMultiplier(2.0),
			backoff.WithRandomizationFactor(0),
			backoff.WithMaxInterval(max),
		)
	case "exponential-jitter":
		return backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(base),
			backoff.WithMultiplier(2.0),
			backoff.WithRandomizationFactor(0.3),
			backoff.WithMaxInterval(max),
		)
	default:
		return backoff.NewConstantBackOff(base)
	}
}
